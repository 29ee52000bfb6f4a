package protocol

// Wire defaults of the flight telemetry link.
const (
	DefaultFrameSize = 73
	DefaultHeader1   = 0xAA
	DefaultHeader2   = 0x55
)

// Field names shared by the built-in layouts.
const (
	FieldTimestamp      = "timestamp"
	FieldRoll           = "roll"
	FieldPitch          = "pitch"
	FieldYaw            = "yaw"
	FieldAccelX         = "accel_x"
	FieldAccelY         = "accel_y"
	FieldAccelZ         = "accel_z"
	FieldPressure       = "pressure"
	FieldBaroAltitude   = "baro_alt"
	FieldLatitude       = "latitude"
	FieldLongitude      = "longitude"
	FieldGPSAltitude    = "gps_alt"
	FieldSpeed          = "speed"
	FieldHeading        = "heading"
	FieldSatellites     = "satellites"
	FieldGPSFix         = "gps_fix"
	FieldHDOP           = "hdop"
	FieldServoCmd       = "servo_cmd"
	FieldServoFb        = "servo_fb"
	FieldServoOnline    = "servo_online"
	FieldTargetX        = "target_x"
	FieldTargetY        = "target_y"
	FieldTargetW        = "target_w"
	FieldTargetH        = "target_h"
	FieldBatteryPercent = "battery_percent"
	FieldCharging       = "charging"
	FieldBatteryMV      = "battery_mv"
	FieldTemperature    = "temperature"
)

// ServoChannels is the number of actuator channels in every layout.
const ServoChannels = 4

// Payload offsets of the blocks that do not move between versions.
const (
	offTimestamp = 0
	offAttitude  = 4
	offAccel     = 10
	offBaro      = 16
	offGPS       = 20
	offServoCmd  = 38
	offServoFb   = 46
	offOnline    = 54
	offTracking  = 55
	offBattery   = 63
	offTemp      = 67
)

func headFields() []Field {
	return []Field{
		{Name: FieldTimestamp, Offset: offTimestamp, Type: Uint32},
		{Name: FieldRoll, Offset: offAttitude, Type: Int16, Div: 10},
		{Name: FieldPitch, Offset: offAttitude + 2, Type: Int16, Div: 10},
		{Name: FieldYaw, Offset: offAttitude + 4, Type: Int16, Div: 10},
		{Name: FieldAccelX, Offset: offAccel, Type: Int16, Div: 100},
		{Name: FieldAccelY, Offset: offAccel + 2, Type: Int16, Div: 100},
		{Name: FieldAccelZ, Offset: offAccel + 4, Type: Int16, Div: 100},
		{Name: FieldPressure, Offset: offBaro, Type: Uint16},
		{Name: FieldBaroAltitude, Offset: offBaro + 2, Type: Int16, Div: 10},
	}
}

func servoFields() []Field {
	out := Repeat(FieldServoCmd, ServoChannels, offServoCmd, 2, Int16, 10)
	out = append(out, Repeat(FieldServoFb, ServoChannels, offServoFb, 2, Int16, 10)...)
	return append(out, Field{Name: FieldServoOnline, Offset: offOnline, Type: Uint8})
}

func tailFields() []Field {
	return []Field{
		{Name: FieldBatteryPercent, Offset: offBattery, Type: Uint8},
		{Name: FieldCharging, Offset: offBattery + 1, Type: Uint8},
		{Name: FieldBatteryMV, Offset: offBattery + 2, Type: Uint16},
		{Name: FieldTemperature, Offset: offTemp, Type: Int16, Div: 10},
	}
}

func concat(parts ...[]Field) []Field {
	var out []Field
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// CanphonLayout is the layout emitted by the phone-side frame builder: an
// 18-byte GPS block ending in HDOP and a tracking box with unsigned size.
var CanphonLayout = MustFieldLayout("canphon", FieldTimestamp, concat(
	headFields(),
	[]Field{
		{Name: FieldLatitude, Offset: offGPS, Type: Int32, Div: 1e7},
		{Name: FieldLongitude, Offset: offGPS + 4, Type: Int32, Div: 1e7},
		{Name: FieldGPSAltitude, Offset: offGPS + 8, Type: Int16},
		{Name: FieldSpeed, Offset: offGPS + 10, Type: Uint16, Div: 100},
		{Name: FieldHeading, Offset: offGPS + 12, Type: Uint16, Div: 10},
		{Name: FieldSatellites, Offset: offGPS + 14, Type: Uint8},
		{Name: FieldGPSFix, Offset: offGPS + 15, Type: Uint8},
		{Name: FieldHDOP, Offset: offGPS + 16, Type: Uint16, Div: 100},
	},
	servoFields(),
	[]Field{
		{Name: FieldTargetX, Offset: offTracking, Type: Int16},
		{Name: FieldTargetY, Offset: offTracking + 2, Type: Int16},
		{Name: FieldTargetW, Offset: offTracking + 4, Type: Uint16},
		{Name: FieldTargetH, Offset: offTracking + 6, Type: Uint16},
	},
	tailFields(),
)...)

// Viewer32Layout carries a 32-bit GPS altitude in centimetres and no HDOP;
// the tracking box is four signed words.
var Viewer32Layout = MustFieldLayout("viewer32", FieldTimestamp, concat(
	headFields(),
	[]Field{
		{Name: FieldLatitude, Offset: offGPS, Type: Int32, Div: 1e7},
		{Name: FieldLongitude, Offset: offGPS + 4, Type: Int32, Div: 1e7},
		{Name: FieldGPSAltitude, Offset: offGPS + 8, Type: Int32, Div: 100},
		{Name: FieldSpeed, Offset: offGPS + 12, Type: Uint16, Div: 10},
		{Name: FieldHeading, Offset: offGPS + 14, Type: Uint16, Div: 10},
		{Name: FieldSatellites, Offset: offGPS + 16, Type: Uint8},
		{Name: FieldGPSFix, Offset: offGPS + 17, Type: Uint8},
	},
	servoFields(),
	[]Field{
		{Name: FieldTargetX, Offset: offTracking, Type: Int16},
		{Name: FieldTargetY, Offset: offTracking + 2, Type: Int16},
		{Name: FieldTargetW, Offset: offTracking + 4, Type: Int16},
		{Name: FieldTargetH, Offset: offTracking + 6, Type: Int16},
	},
	tailFields(),
)...)

// LiteLayout reads only position out of the GPS block and skips tracking.
var LiteLayout = MustFieldLayout("lite", FieldTimestamp, concat(
	headFields(),
	[]Field{
		{Name: FieldLatitude, Offset: offGPS, Type: Int32, Div: 1e7},
		{Name: FieldLongitude, Offset: offGPS + 4, Type: Int32, Div: 1e7},
	},
	servoFields(),
	tailFields(),
)...)
