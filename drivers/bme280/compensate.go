package bme280

import "altruist-go/x/mathx"

// Calibration holds the factory trimming parameters (datasheet §4.2.2).
type Calibration struct {
	T1 uint16
	T2 int16
	T3 int16

	P1 uint16
	P2 int16
	P3 int16
	P4 int16
	P5 int16
	P6 int16
	P7 int16
	P8 int16
	P9 int16

	H1 uint8
	H2 int16
	H3 uint8
	H4 int16
	H5 int16
	H6 int8
}

// parseTP decodes the 24-byte block read from 0x88 (little-endian words).
func (c *Calibration) parseTP(b []byte) {
	u16 := func(i int) uint16 { return uint16(b[i]) | uint16(b[i+1])<<8 }
	s16 := func(i int) int16 { return int16(u16(i)) }

	c.T1 = u16(0)
	c.T2 = s16(2)
	c.T3 = s16(4)
	c.P1 = u16(6)
	c.P2 = s16(8)
	c.P3 = s16(10)
	c.P4 = s16(12)
	c.P5 = s16(14)
	c.P6 = s16(16)
	c.P7 = s16(18)
	c.P8 = s16(20)
	c.P9 = s16(22)
}

// parseH decodes dig_H1 (from 0xA1) and the 7-byte block read from 0xE1.
// dig_H4 and dig_H5 are 12-bit values sharing the nibbles of 0xE5.
func (c *Calibration) parseH(h1 byte, e []byte) {
	c.H1 = h1
	c.H2 = int16(uint16(e[0]) | uint16(e[1])<<8)
	c.H3 = e[2]
	c.H4 = int16(int8(e[3]))<<4 | int16(e[4]&0x0F)
	c.H5 = int16(int8(e[5]))<<4 | int16(e[4]>>4)
	c.H6 = int8(e[6])
}

// Raw is one uncompensated ADC sample.
type Raw struct {
	Pressure    int32 // 20 bit
	Temperature int32 // 20 bit
	Humidity    int32 // 16 bit
}

// decodeRaw unpacks the 8-byte burst starting at 0xF7.
func decodeRaw(b []byte) Raw {
	return Raw{
		Pressure:    int32(b[0])<<12 | int32(b[1])<<4 | int32(b[2])>>4,
		Temperature: int32(b[3])<<12 | int32(b[4])<<4 | int32(b[5])>>4,
		Humidity:    int32(b[6])<<8 | int32(b[7]),
	}
}

// Measurement is a compensated sample in the Bosch fixed-point formats.
type Measurement struct {
	CentiCelsius int32  // 0.01 °C
	PressureQ24  uint32 // Pa, Q24.8
	HumidityQ22  uint32 // %RH, Q22.10
}

func (m Measurement) Celsius() float32 { return float32(m.CentiCelsius) / 100 }

func (m Measurement) HectoPascal() float32 { return float32(m.PressureQ24) / 25600 }

func (m Measurement) RelHumidity() float32 { return float32(m.HumidityQ22) / 1024 }

// Compensate applies the datasheet integer algorithms. Temperature runs
// first: its t_fine feeds both pressure and humidity.
func (c *Calibration) Compensate(r Raw) Measurement {
	t, fine := c.compensateT(r.Temperature)
	return Measurement{
		CentiCelsius: t,
		PressureQ24:  c.compensateP(r.Pressure, fine),
		HumidityQ22:  c.compensateH(r.Humidity, fine),
	}
}

func (c *Calibration) compensateT(adc int32) (centi, fine int32) {
	t1 := int32(c.T1)
	var1 := (((adc >> 3) - t1<<1) * int32(c.T2)) >> 11
	d := (adc >> 4) - t1
	var2 := (((d * d) >> 12) * int32(c.T3)) >> 14
	fine = var1 + var2
	return (fine*5 + 128) >> 8, fine
}

// compensateP returns 0 when the denominator vanishes (bad calibration).
func (c *Calibration) compensateP(adc, fine int32) uint32 {
	var1 := int64(fine) - 128000
	var2 := var1 * var1 * int64(c.P6)
	var2 += (var1 * int64(c.P5)) << 17
	var2 += int64(c.P4) << 35
	var1 = ((var1 * var1 * int64(c.P3)) >> 8) + ((var1 * int64(c.P2)) << 12)
	var1 = (((int64(1) << 47) + var1) * int64(c.P1)) >> 33
	if var1 == 0 {
		return 0
	}
	p := 1048576 - int64(adc)
	p = (((p << 31) - var2) * 3125) / var1
	var1 = (int64(c.P9) * (p >> 13) * (p >> 13)) >> 25
	var2 = (int64(c.P8) * p) >> 19
	p = ((p + var1 + var2) >> 8) + int64(c.P7)<<4
	return uint32(p)
}

func (c *Calibration) compensateH(adc, fine int32) uint32 {
	v := fine - 76800
	a := ((adc << 14) - int32(c.H4)<<20 - int32(c.H5)*v + 16384) >> 15
	b := (((((v*int32(c.H6))>>10)*(((v*int32(c.H3))>>11)+32768))>>10)+2097152)*int32(c.H2) + 8192
	v = a * (b >> 14)
	v -= (((v >> 15) * (v >> 15)) >> 7) * int32(c.H1) >> 4
	v = mathx.Clamp(v, 0, 419430400)
	return uint32(v >> 12)
}
