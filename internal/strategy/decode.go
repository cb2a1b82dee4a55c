package strategy

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// decodeArgs copies args into out, rejecting keys out does not declare.
func decodeArgs(args Args, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	if err := decoder.Decode(map[string]any(args)); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	return nil
}
