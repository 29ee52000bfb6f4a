package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Record is one decoded telemetry snapshot. It is never modified after
// Feed returns it.
type Record struct {
	// Timestamp is the device clock in milliseconds.
	Timestamp uint32

	layout *FieldLayout
	values []float64
}

func (r Record) Layout() string {
	if r.layout == nil {
		return ""
	}
	return r.layout.name
}

// Value returns the scaled value of a field.
func (r Record) Value(name string) (float64, bool) {
	if r.layout == nil {
		return 0, false
	}
	idx, ok := r.layout.index[name]
	if !ok {
		return 0, false
	}
	return r.values[idx], true
}

// Get is Value without the presence flag; missing fields read as zero.
func (r Record) Get(name string) float64 {
	v, _ := r.Value(name)
	return v
}

func (r Record) Names() []string {
	if r.layout == nil {
		return nil
	}
	names := make([]string, len(r.layout.fields))
	for i, f := range r.layout.fields {
		names[i] = f.Name
	}
	return names
}

// Values returns a copy of all fields keyed by name.
func (r Record) Values() map[string]float64 {
	if r.layout == nil {
		return map[string]float64{}
	}
	out := make(map[string]float64, len(r.values))
	for i, f := range r.layout.fields {
		out[f.Name] = r.values[i]
	}
	return out
}

// MarshalJSON keeps fields in layout order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"ts_ms":`)
	buf.WriteString(strconv.FormatUint(uint64(r.Timestamp), 10))
	buf.WriteString(`,"layout":`)
	name, err := json.Marshal(r.Layout())
	if err != nil {
		return nil, err
	}
	buf.Write(name)
	buf.WriteString(`,"fields":{`)
	if r.layout != nil {
		for i, f := range r.layout.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(f.Name)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.WriteString(strconv.FormatFloat(r.values[i], 'g', -1, 64))
		}
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// Telemetry is a typed view of the flight telemetry fields.
type Telemetry struct {
	TimestampMS uint32 `json:"timestamp_ms"`

	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`

	AccelX float64 `json:"accel_x"`
	AccelY float64 `json:"accel_y"`
	AccelZ float64 `json:"accel_z"`

	Pressure     float64 `json:"pressure"`
	BaroAltitude float64 `json:"baro_alt"`

	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	GPSAltitude float64 `json:"gps_alt"`
	Speed       float64 `json:"speed"`
	Heading     float64 `json:"heading"`
	Satellites  uint8   `json:"satellites"`
	GPSFix      uint8   `json:"gps_fix"`
	HDOP        float64 `json:"hdop"`

	ServoCmd    [ServoChannels]float64 `json:"servo_cmd"`
	ServoFb     [ServoChannels]float64 `json:"servo_fb"`
	ServoOnline uint8                  `json:"servo_online"`

	TargetX int32 `json:"target_x"`
	TargetY int32 `json:"target_y"`
	TargetW int32 `json:"target_w"`
	TargetH int32 `json:"target_h"`

	BatteryPercent uint8   `json:"battery_percent"`
	Charging       bool    `json:"charging"`
	BatteryMV      uint16  `json:"battery_mv"`
	Temperature    float64 `json:"temperature"`
}

// ChannelOnline reports whether servo channel ch (1-based) answered.
func (t Telemetry) ChannelOnline(ch int) bool {
	if ch < 1 || ch > 8 {
		return false
	}
	return t.ServoOnline&(1<<(ch-1)) != 0
}

// BatteryVolts converts the millivolt reading.
func (t Telemetry) BatteryVolts() float64 {
	return float64(t.BatteryMV) / 1000.0
}

// Telemetry projects the record onto the flight fields. Fields the layout
// does not carry stay zero.
func (r Record) Telemetry() Telemetry {
	t := Telemetry{
		TimestampMS:    r.Timestamp,
		Roll:           r.Get(FieldRoll),
		Pitch:          r.Get(FieldPitch),
		Yaw:            r.Get(FieldYaw),
		AccelX:         r.Get(FieldAccelX),
		AccelY:         r.Get(FieldAccelY),
		AccelZ:         r.Get(FieldAccelZ),
		Pressure:       r.Get(FieldPressure),
		BaroAltitude:   r.Get(FieldBaroAltitude),
		Latitude:       r.Get(FieldLatitude),
		Longitude:      r.Get(FieldLongitude),
		GPSAltitude:    r.Get(FieldGPSAltitude),
		Speed:          r.Get(FieldSpeed),
		Heading:        r.Get(FieldHeading),
		Satellites:     uint8(r.Get(FieldSatellites)),
		GPSFix:         uint8(r.Get(FieldGPSFix)),
		HDOP:           r.Get(FieldHDOP),
		ServoOnline:    uint8(r.Get(FieldServoOnline)),
		TargetX:        int32(r.Get(FieldTargetX)),
		TargetY:        int32(r.Get(FieldTargetY)),
		TargetW:        int32(r.Get(FieldTargetW)),
		TargetH:        int32(r.Get(FieldTargetH)),
		BatteryPercent: uint8(r.Get(FieldBatteryPercent)),
		Charging:       r.Get(FieldCharging) != 0,
		BatteryMV:      uint16(r.Get(FieldBatteryMV)),
		Temperature:    r.Get(FieldTemperature),
	}
	for i := 0; i < ServoChannels; i++ {
		n := strconv.Itoa(i + 1)
		t.ServoCmd[i] = r.Get(FieldServoCmd + "_" + n)
		t.ServoFb[i] = r.Get(FieldServoFb + "_" + n)
	}
	return t
}
