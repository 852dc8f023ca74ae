package telemdb

import (
	"github.com/fxamacker/cbor/v2"
)

var (
	descEncMode cbor.EncMode
	descDecMode cbor.DecMode
)

func init() {
	var err error
	var encOptions = cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano

	if descEncMode, err = encOptions.EncMode(); err != nil {
		panic("cbor encoder: " + err.Error())
	}
	if descDecMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic("cbor decoder: " + err.Error())
	}
}

func marshalDescription(desc CaptureDescription) ([]byte, error) {
	return descEncMode.Marshal(desc)
}

func unmarshalDescription(b []byte) (CaptureDescription, error) {
	var desc CaptureDescription
	if err := descDecMode.Unmarshal(b, &desc); err != nil {
		return desc, formatErr(err, "decoding capture description")
	}
	desc.Created = desc.Created.UTC()
	return desc, nil
}
