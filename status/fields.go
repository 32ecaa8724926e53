package status

// Field pairs a sample's field name with its Decoder.
type Field struct {
	Name    string
	Decoder Decoder
}

// Registry is the authoritative, ordered list of SolarRiver status fields.
// Position in this slice is the order fields are evaluated and, for a full
// Sample, the order they appear in Sample.Names.
func Registry() []Field {
	return []Field{
		{"operation_mode", OperationMode()},
		{"total_operation_time", Int(false, 0x09, 0x0a)},
		{"pv1_input_power", Decimal(false, 0, 0x27)},
		{"pv2_input_power", Decimal(false, 0, 0x28)},
		{"pv1_voltage", Decimal(false, -1, 0x01)},
		{"pv2_voltage", Decimal(false, -1, 0x02)},
		{"pv1_current", Decimal(false, -1, 0x04)},
		{"pv2_current", Decimal(false, -1, 0x05)},
		{"output_power", OneOf(Decimal(false, 0, 0x0b), Decimal(false, 0, 0x34))},
		{"energy_today", Decimal(false, -2, 0x11)},
		{"energy_total", OneOf(
			Decimal(false, -1, 0x07, 0x08),
			Decimal(false, -1, 0x35, 0x36),
		)},
		{"grid_voltage", Gated(0x51, false, Decimal(false, -1, 0x32))},
		{"grid_current", Gated(0x51, false, Decimal(false, -1, 0x31))},
		{"grid_frequency", Gated(0x51, false, Decimal(false, -2, 0x33))},
		{"grid_voltage_r_phase", Gated(0x51, true, Decimal(false, -1, 0x32))},
		{"grid_current_r_phase", Gated(0x51, true, Decimal(false, -1, 0x31))},
		{"grid_frequency_r_phase", Gated(0x51, true, Decimal(false, -2, 0x33))},
		{"grid_voltage_s_phase", Decimal(false, -1, 0x52)},
		{"grid_current_s_phase", Decimal(false, -1, 0x51)},
		{"grid_frequency_s_phase", Decimal(false, -2, 0x53)},
		{"grid_voltage_t_phase", Decimal(false, -1, 0x72)},
		{"grid_current_t_phase", Decimal(false, -1, 0x71)},
		{"grid_frequency_t_phase", Decimal(false, -2, 0x73)},
		{"internal_temperature", Decimal(true, -1, 0x00)},
		{"heatsink_temperature", Decimal(true, -1, 0x2f)},
	}
}

// Sample is an ordered mapping from field name to decoded Value, preserving
// Registry order.
type Sample struct {
	names  []string
	values map[string]Value
}

// newSample allocates an empty Sample.
func newSample() *Sample {
	return &Sample{values: make(map[string]Value)}
}

// set appends name (if new) and records its value.
func (s *Sample) set(name string, v Value) {
	if _, exists := s.values[name]; !exists {
		s.names = append(s.names, name)
	}
	s.values[name] = v
}

// Names returns the fields present in this sample, in Registry order.
func (s *Sample) Names() []string {
	return s.names
}

// Get returns the value for name and whether it was present.
func (s *Sample) Get(name string) (Value, bool) {
	v, ok := s.values[name]
	return v, ok
}

// ShouldPersist reports whether a sink would ordinarily persist this
// sample: the Python original only writes to its database sink while the
// inverter reports operation_mode "Normal", still rendering every other
// sample to the console. A fault or wait-mode sample is decoded the same
// way either way; this only expresses the upstream persistence policy.
func (s *Sample) ShouldPersist() bool {
	v, ok := s.Get("operation_mode")
	return ok && v.Kind == KindString && v.String == "Normal"
}

// Decode evaluates every Registry field against format/payload and
// collects the present ones into a Sample, in Registry order. It returns
// ErrUnknownOperationMode if the device reports an operation-mode integer
// outside 0..5; decoding stops at that field and no Sample is returned.
// Operation mode is the only field that can fail.
func Decode(format, payload []byte) (*Sample, error) {
	sample := newSample()
	for _, field := range Registry() {
		v, ok, err := field.Decoder.decode(format, payload)
		if err != nil {
			return nil, err
		}
		if ok {
			sample.set(field.Name, v)
		}
	}
	return sample, nil
}
