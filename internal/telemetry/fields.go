package telemetry

// Sink layout for telemetry points.
const (
	Measurement = "drone_telemetry"
	TagDroneID  = "drone_id"
)

// fieldSpec maps one optional record value to a sink field.
type fieldSpec struct {
	name  string
	value func(*Record) (any, bool)
}

// fieldTable lists sink fields in the order they are assembled. Only
// values the drone reported are written.
var fieldTable = []fieldSpec{
	{"battery_level", func(r *Record) (any, bool) { return floatValue(r.BatteryLevel) }},
	{"battery_voltage", func(r *Record) (any, bool) { return floatValue(r.BatteryVoltage) }},
	{"latitude", func(r *Record) (any, bool) { return floatValue(r.Latitude) }},
	{"longitude", func(r *Record) (any, bool) { return floatValue(r.Longitude) }},
	{"altitude", func(r *Record) (any, bool) { return floatValue(r.Altitude) }},
	{"speed", func(r *Record) (any, bool) { return floatValue(r.Speed) }},
	{"heading", func(r *Record) (any, bool) { return floatValue(r.Heading) }},
	{"satellites", func(r *Record) (any, bool) {
		if r.Satellites == nil {
			return nil, false
		}
		return int64(*r.Satellites), true
	}},
	{"signal_strength", func(r *Record) (any, bool) { return floatValue(r.SignalStrength) }},
	{"flight_mode", func(r *Record) (any, bool) {
		if r.FlightMode == nil {
			return nil, false
		}
		return *r.FlightMode, true
	}},
	{"temperature", func(r *Record) (any, bool) { return floatValue(r.Temperature) }},
}

func floatValue(p *float64) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

// Fields returns the sink fields present in r.
func (r *Record) Fields() map[string]any {
	fields := make(map[string]any, len(fieldTable))
	for _, f := range fieldTable {
		if v, ok := f.value(r); ok {
			fields[f.name] = v
		}
	}
	return fields
}
