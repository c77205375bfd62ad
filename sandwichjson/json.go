package sandwichjson

import (
	"io"
	"runtime"

	"github.com/bytedance/sonic"
	jsoniter "github.com/json-iterator/go"
)

const UseSonic = runtime.GOARCH == "amd64" && runtime.GOOS == "linux"

var (
	sonicNumber = sonic.Config{
		UseNumber: true,
	}.Froze()

	jsoniterNumber = jsoniter.Config{
		EscapeHTML: true,
		UseNumber:  true,
	}.Froze()
)

func Unmarshal(data []byte, v any) error {
	if UseSonic {
		return sonic.Unmarshal(data, v)
	} else {
		return jsoniter.Unmarshal(data, v)
	}
}

// UnmarshalUseNumber decodes numbers inside interface values as
// json.Number so integers keep their precision.
func UnmarshalUseNumber(data []byte, v any) error {
	if UseSonic {
		return sonicNumber.Unmarshal(data, v)
	} else {
		return jsoniterNumber.Unmarshal(data, v)
	}
}

func Marshal(v any) ([]byte, error) {
	if UseSonic {
		return sonic.Marshal(v)
	} else {
		return jsoniter.Marshal(v)
	}
}

func MarshalToWriter(writer io.Writer, v any) error {
	if UseSonic {
		return sonic.ConfigDefault.NewEncoder(writer).Encode(v)
	} else {
		return jsoniter.NewEncoder(writer).Encode(v)
	}
}
