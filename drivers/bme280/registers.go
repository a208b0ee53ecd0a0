package bme280

const (
	// 7-bit I2C addresses (SDO low / SDO high).
	AddressPrimary   = 0x76
	AddressSecondary = 0x77

	// Expected content of the chip-ID register.
	ChipID = 0x60

	// --- Register addresses ---
	regCalibTP    = 0x88 // 0x88..0x9F, 24 bytes: dig_T1..dig_P9
	regCalibH1    = 0xA1 // dig_H1
	regChipID     = 0xD0
	regReset      = 0xE0 // soft reset (unused)
	regCalibH2    = 0xE1 // 0xE1..0xE7, 7 bytes: dig_H2..dig_H6
	regCtrlHum    = 0xF2
	regStatus     = 0xF3
	regCtrlMeas   = 0xF4
	regConfig     = 0xF5
	regPressMSB   = 0xF7 // 0xF7..0xFE burst: press[3] temp[3] hum[2]
	calibTPLen    = 24
	calibHLen     = 7
	measurementSz = 8

	// --- ctrl_hum (0xF2) ---
	osrsH1x = 0x01

	// --- ctrl_meas (0xF4): osrs_t[7:5] osrs_p[4:2] mode[1:0] ---
	osrsT1x    = 0x01 << 5
	osrsP1x    = 0x01 << 2
	modeForced = 0x01

	// --- config (0xF5): t_sb[7:5] filter[4:2] ---
	standby1000ms = 0x05 << 5
	filterOff     = 0x00 << 2

	ctrlMeasForced = osrsT1x | osrsP1x | modeForced
	configValue    = standby1000ms | filterOff
)
