//go:build rp2040

package platform

import (
	"context"
	"machine"
	"sync"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers"

	"altruist-go/errcode"
	"altruist-go/types"
)

// request posted to the per-bus worker
type i2cReq struct {
	addr uint16
	w, r []byte
	done chan error // buffered(1); worker replies best-effort
}

// i2cOwner serialises all transactions of one bus on a single goroutine.
type i2cOwner struct {
	hw   *machine.I2C
	reqs chan i2cReq
	quit chan struct{}
}

func newI2COwner(hw *machine.I2C) *i2cOwner {
	o := &i2cOwner{hw: hw, reqs: make(chan i2cReq, 16), quit: make(chan struct{})}
	go o.loop()
	return o
}

func (o *i2cOwner) loop() {
	for {
		select {
		case req := <-o.reqs:
			err := o.hw.Tx(req.addr, req.w, req.r)
			select {
			case req.done <- err:
			default:
			}
		case <-o.quit:
			return
		}
	}
}

// Tx posts a request and waits for the worker. Callers bound it with
// busx.I2C, so no deadline is applied here.
func (o *i2cOwner) Tx(addr uint16, w, r []byte) error {
	req := i2cReq{addr: addr, w: w, r: r, done: make(chan error, 1)}
	select {
	case o.reqs <- req:
	case <-o.quit:
		return errcode.New(errcode.NotInitialized, "i2c tx", "bus closed")
	}
	return <-req.done
}

var _ drivers.I2C = (*i2cOwner)(nil)

// rp2Serial adapts uartx to types.SerialPort.
type rp2Serial struct{ u *uartx.UART }

func (p *rp2Serial) Write(b []byte) (int, error) { return p.u.Write(b) }
func (p *rp2Serial) RecvSomeContext(ctx context.Context, buf []byte) (int, error) {
	return p.u.RecvSomeContext(ctx, buf)
}
func (p *rp2Serial) SetBaudRate(br uint32) error { p.u.SetBaudRate(br); return nil }

// RP2040 owns the MCU buses described by a Plan.
type RP2040 struct {
	mu   sync.Mutex
	i2c  map[string]*i2cOwner
	uart map[string]*rp2Serial
}

var _ Resources = (*RP2040)(nil)

// NewRP2040 configures pins and peripherals per plan.
func NewRP2040(plan Plan) *RP2040 {
	r := &RP2040{i2c: map[string]*i2cOwner{}, uart: map[string]*rp2Serial{}}
	for _, p := range plan.I2C {
		var hw *machine.I2C
		switch p.ID {
		case "i2c0":
			hw = machine.I2C0
		case "i2c1":
			hw = machine.I2C1
		default:
			continue
		}
		sda, scl := machine.Pin(p.SDA), machine.Pin(p.SCL)
		sda.Configure(machine.PinConfig{Mode: machine.PinI2C})
		scl.Configure(machine.PinConfig{Mode: machine.PinI2C})
		hw.Configure(machine.I2CConfig{SCL: scl, SDA: sda, Frequency: p.Hz})
		r.i2c[p.ID] = newI2COwner(hw)
	}
	for _, u := range plan.UART {
		var hw *uartx.UART
		switch u.ID {
		case "uart0":
			hw = uartx.UART0
		case "uart1":
			hw = uartx.UART1
		default:
			continue
		}
		_ = hw.Configure(uartx.UARTConfig{BaudRate: u.Baud, TX: machine.Pin(u.TX), RX: machine.Pin(u.RX)})
		r.uart[u.ID] = &rp2Serial{u: hw}
	}
	return r
}

func (r *RP2040) I2C(id string) (drivers.I2C, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.i2c[id]; ok {
		return o, nil
	}
	return nil, errcode.New(errcode.ConfigError, "open i2c", "unknown bus "+id)
}

func (r *RP2040) Serial(id string, baud uint32) (types.SerialPort, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.uart[id]
	if !ok {
		return nil, errcode.New(errcode.ConfigError, "open serial", "unknown port "+id)
	}
	if baud > 0 {
		_ = p.SetBaudRate(baud)
	}
	return p, nil
}

// Close stops the per-bus I2C workers.
func (r *RP2040) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, o := range r.i2c {
		close(o.quit)
		delete(r.i2c, id)
	}
	return nil
}
