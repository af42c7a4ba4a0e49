package dataset

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/qrlew/qrlew-go/internal/datatype"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

// Document type tags written by this package.
const (
	DatasetTypeTag = "sarus_data_spec/sarus_data_spec.Dataset"
	SchemaTypeTag  = "sarus_data_spec/sarus_data_spec.Schema"
	SizeTypeTag    = "sarus_data_spec/sarus_data_spec.Size"
)

var validate = validator.New()

// DatasetDoc is the dataset document.
type DatasetDoc struct {
	Type       string                 `json:"@type,omitempty"`
	UUID       string                 `json:"uuid" validate:"required"`
	Name       string                 `json:"name" validate:"required"`
	Doc        string                 `json:"doc,omitempty"`
	Spec       map[string]interface{} `json:"spec,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// SchemaDoc is the schema document. Its type is either a Union of tables and
// namespaces, a Struct wrapping such a Union under sarus_data, or a single
// table Struct.
type SchemaDoc struct {
	Type        string                 `json:"@type,omitempty"`
	UUID        string                 `json:"uuid" validate:"required"`
	Dataset     string                 `json:"dataset,omitempty"`
	Name        string                 `json:"name" validate:"required"`
	DataType    *datatype.Wire         `json:"type" validate:"required"`
	PrivacyUnit *PrivacyUnitDoc        `json:"privacy_unit,omitempty"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
}

// PrivacyUnitDoc is the privacy unit declared inside a schema document.
type PrivacyUnitDoc struct {
	Label      string                 `json:"label"`
	Paths      []PathDoc              `json:"paths"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// PathDoc is a labelled path.
type PathDoc struct {
	Label []string `json:"label"`
}

// SizeDoc is the size document. Its statistics tree mirrors the schema type.
type SizeDoc struct {
	Type       string                 `json:"@type,omitempty"`
	UUID       string                 `json:"uuid" validate:"required"`
	Dataset    string                 `json:"dataset,omitempty"`
	Name       string                 `json:"name,omitempty"`
	Statistics *StatisticsWire        `json:"statistics" validate:"required"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// StatisticsWire is one node of a statistics tree. As for types, the payload
// key selects the variant.
type StatisticsWire struct {
	Name       string                 `json:"name,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Struct     *StatisticsFields      `json:"struct,omitempty"`
	Union      *StatisticsFields      `json:"union,omitempty"`
	Optional   *StatisticsOptional    `json:"optional,omitempty"`
	Integer    *StatisticsLeaf        `json:"integer,omitempty"`
	Float      *StatisticsLeaf        `json:"float,omitempty"`
	Text       *StatisticsLeaf        `json:"text,omitempty"`
	Boolean    *StatisticsLeaf        `json:"boolean,omitempty"`
	Datetime   *StatisticsLeaf        `json:"datetime,omitempty"`
	Date       *StatisticsLeaf        `json:"date,omitempty"`
	Id         *StatisticsLeaf        `json:"id,omitempty"`
}

type StatisticsFields struct {
	Fields       []StatisticsField `json:"fields"`
	Size         *datatype.Int64   `json:"size,omitempty"`
	Multiplicity *datatype.Float64 `json:"multiplicity,omitempty"`
}

type StatisticsField struct {
	Name       string          `json:"name"`
	Statistics *StatisticsWire `json:"statistics"`
}

type StatisticsOptional struct {
	Statistics   *StatisticsWire   `json:"statistics"`
	Size         *datatype.Int64   `json:"size,omitempty"`
	Multiplicity *datatype.Float64 `json:"multiplicity,omitempty"`
}

type StatisticsLeaf struct {
	Distribution *DistributionWire `json:"distribution,omitempty"`
	Size         *datatype.Int64   `json:"size,omitempty"`
	Multiplicity *datatype.Float64 `json:"multiplicity,omitempty"`
}

// DistributionWire holds bounds either directly or under an integer or
// double sub-object.
type DistributionWire struct {
	Min        *datatype.Float64      `json:"min,omitempty"`
	Max        *datatype.Float64      `json:"max,omitempty"`
	Points     []PointWire            `json:"points,omitempty"`
	Integer    *DistributionWire      `json:"integer,omitempty"`
	Double     *DistributionWire      `json:"double,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

type PointWire struct {
	Value       json.RawMessage `json:"value"`
	Probability float64         `json:"probability"`
}

// decodeDoc unmarshals raw into v and checks its shape.
func decodeDoc(kind, raw string, v interface{}) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return qerrors.NewMalformedInput(kind+" document is not valid JSON", err)
	}
	if err := validate.Struct(v); err != nil {
		return qerrors.NewMalformedInput(kind+" document has an unexpected shape", err)
	}
	return nil
}

func encodeDoc(kind string, v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", qerrors.NewInternalError("encode "+kind+" document", err)
	}
	return string(b), nil
}
