package osc

// NamedParam is one key/value pair from a message's trailing varargs.
type NamedParam struct {
	Key   string
	Value float32
}

// ValidateVarargs checks that args alternate string, float32, string, ...
// starting with a string. The empty slice is valid. Only element kinds are
// checked, so a trailing key without a value passes.
func ValidateVarargs(args []Argument) error {
	wantKey := true
	for i, arg := range args {
		switch arg.(type) {
		case String:
			if !wantKey {
				return &VarargError{Index: i, Want: "float32", Got: arg.Kind()}
			}
		case Float32:
			if wantKey {
				return &VarargError{Index: i, Want: "string", Got: arg.Kind()}
			}
		default:
			want := "string"
			if !wantKey {
				want = "float32"
			}
			return &VarargError{Index: i, Want: want, Got: arg.Kind()}
		}
		wantKey = !wantKey
	}
	return nil
}

// NamedParams returns the varargs from start as key/value pairs. A trailing
// key without a value is dropped.
func (m Message) NamedParams(start int) ([]NamedParam, error) {
	args, err := m.Varargs(start)
	if err != nil {
		return nil, err
	}
	params := make([]NamedParam, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		params = append(params, NamedParam{
			Key:   string(args[i].(String)),
			Value: float32(args[i+1].(Float32)),
		})
	}
	return params, nil
}
