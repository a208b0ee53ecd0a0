package types

// DataKind names a Data variant. Values double as bus topic tokens.
type DataKind string

const (
	KindEnvironmental DataKind = "environmental"
	KindAirQuality    DataKind = "air_quality"
	KindGas           DataKind = "gas"
	KindRadiation     DataKind = "radiation"
	KindNoise         DataKind = "noise"
	KindLocation      DataKind = "location"
	KindAnalog        DataKind = "analog"
)

// Data is the closed set of per-quantity payloads carried by a Reading.
// Optional fields are nil when the value was invalid or unavailable even
// though the read as a whole succeeded.
type Data interface {
	Kind() DataKind
}

// Environmental: BME280, BME680, ...
type Environmental struct {
	Temperature   *float32 `json:"temperature,omitempty"`    // °C
	Humidity      *float32 `json:"humidity,omitempty"`       // %RH
	Pressure      *float32 `json:"pressure,omitempty"`       // hPa
	GasResistance *float32 `json:"gas_resistance,omitempty"` // Ω, BME680 only
}

// AirQuality: particulate matter in µg/m³.
type AirQuality struct {
	PM25 *float32 `json:"pm25,omitempty"`
	PM10 *float32 `json:"pm10,omitempty"`
}

// Gas: ME2-CO, SCD4x, SGP30, ...
type Gas struct {
	COppm    *float32 `json:"co_ppm,omitempty"`
	CO2ppm   *uint16  `json:"co2_ppm,omitempty"`
	VOCIndex *float32 `json:"voc_index,omitempty"`
}

// Radiation dose rate in µSv/h.
type Radiation struct {
	DoseRate  float32  `json:"dose_rate"`
	TotalDose *float32 `json:"total_dose,omitempty"`
}

// Noise level, A-weighted, with optional C-weighting and octave bands.
type Noise struct {
	DBA           float32     `json:"db_a"`
	DBC           *float32    `json:"db_c,omitempty"`
	FrequencyData *[8]float32 `json:"frequency_data,omitempty"`
}

type Location struct {
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	Altitude   *float32 `json:"altitude,omitempty"`
	Satellites *uint8   `json:"satellites,omitempty"`
}

// Analog is a generic ADC channel.
type Analog struct {
	Voltage        float32  `json:"voltage"`
	RawValue       uint16   `json:"raw_value"`
	ConvertedValue *float32 `json:"converted_value,omitempty"`
	Units          string   `json:"units"`
}

func (Environmental) Kind() DataKind { return KindEnvironmental }
func (AirQuality) Kind() DataKind    { return KindAirQuality }
func (Gas) Kind() DataKind           { return KindGas }
func (Radiation) Kind() DataKind     { return KindRadiation }
func (Noise) Kind() DataKind         { return KindNoise }
func (Location) Kind() DataKind      { return KindLocation }
func (Analog) Kind() DataKind        { return KindAnalog }

// F32 returns a pointer to v, for populating optional fields.
func F32(v float32) *float32 { return &v }
