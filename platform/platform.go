// Package platform hands configured bus handles to the node: I2C buses as
// tinygo drivers.I2C and UARTs as types.SerialPort. Builds select the
// implementation: RP2040 firmware or a Linux host.
package platform

import (
	"tinygo.org/x/drivers"

	"altruist-go/types"
)

// Resources opens buses by configuration id ("i2c0", "uart1",
// "/dev/ttyUSB0", ...). Repeated opens of one id return the same handle.
type Resources interface {
	I2C(id string) (drivers.I2C, error)
	Serial(id string, baud uint32) (types.SerialPort, error)
	Close() error
}

// Plan specifies wiring and operating parameters for MCU buses.
type Plan struct {
	I2C  []I2CPlan
	UART []UARTPlan
}

type I2CPlan struct {
	ID  string // e.g. "i2c0"
	SDA int    // GPIO number
	SCL int    // GPIO number
	Hz  uint32 // bus frequency
}

type UARTPlan struct {
	ID   string // e.g. "uart0"
	TX   int    // GPIO number
	RX   int    // GPIO number
	Baud uint32 // initial baud
}

// PicoPlan is the Raspberry Pi Pico wiring of the sensor node.
var PicoPlan = Plan{
	I2C: []I2CPlan{
		{ID: "i2c0", SDA: 4, SCL: 5, Hz: 100_000},
	},
	UART: []UARTPlan{
		{ID: "uart0", TX: 0, RX: 1, Baud: 9600},
		{ID: "uart1", TX: 8, RX: 9, Baud: 9600},
	},
}
