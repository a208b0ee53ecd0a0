package types

// SensorType identifies one physical sensor model. It is the identity key
// for registry lookups, so at most one sensor of each type is registered.
type SensorType uint8

const (
	// Environmental
	BME280 SensorType = iota
	BME680
	SHT30

	// Air quality
	SDS011
	PMS7003

	// Gas
	ME2CO
	SCD4X
	SGP30

	// Radiation
	RadSens

	// Noise (I2S microphone)
	ICS43434

	// Location
	GPS

	// Generic
	AnalogSensor
)

var sensorNames = [...]string{
	BME280:       "BME280",
	BME680:       "BME680",
	SHT30:        "SHT30",
	SDS011:       "SDS011",
	PMS7003:      "PMS7003",
	ME2CO:        "ME2-CO",
	SCD4X:        "SCD4x",
	SGP30:        "SGP30",
	RadSens:      "RadSens",
	ICS43434:     "ICS43434",
	GPS:          "GPS",
	AnalogSensor: "Analog",
}

// Name returns the human-readable model name.
func (t SensorType) Name() string {
	if int(t) < len(sensorNames) {
		return sensorNames[t]
	}
	return "unknown"
}

func (t SensorType) String() string { return t.Name() }

// ExpectedDataKind returns the Data variant this sensor type produces.
func (t SensorType) ExpectedDataKind() DataKind {
	switch t {
	case BME280, BME680, SHT30:
		return KindEnvironmental
	case SDS011, PMS7003:
		return KindAirQuality
	case ME2CO, SCD4X, SGP30:
		return KindGas
	case RadSens:
		return KindRadiation
	case ICS43434:
		return KindNoise
	case GPS:
		return KindLocation
	default:
		return KindAnalog
	}
}
