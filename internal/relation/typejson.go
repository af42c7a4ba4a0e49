package relation

import (
	"encoding/json"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/qrlew/qrlew-go/internal/datatype"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

// TypeJSON returns the schema of r as protobuf JSON, in the same layout as
// the type node of a schema document.
func TypeJSON(r Relation) (string, error) {
	msg, err := TypeStruct(r)
	if err != nil {
		return "", err
	}
	b, err := protojson.Marshal(msg)
	if err != nil {
		return "", qerrors.NewInternalError("encode relation type", err)
	}
	return string(b), nil
}

// TypeStruct returns the schema of r as a protobuf Struct.
func TypeStruct(r Relation) (*structpb.Struct, error) {
	raw, err := json.Marshal(datatype.Encode(r.Schema().Struct()))
	if err != nil {
		return nil, qerrors.NewInternalError("encode relation type", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, qerrors.NewInternalError("encode relation type", err)
	}
	msg, err := structpb.NewStruct(m)
	if err != nil {
		return nil, qerrors.NewInternalError("encode relation type", err)
	}
	return msg, nil
}
