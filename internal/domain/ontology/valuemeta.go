package ontology

import (
	"encoding/xml"
	"time"
)

// ValueMetadata is the c_metadataxml document that tells the query tool how
// to constrain the value of a leaf.
type ValueMetadata struct {
	XMLName          xml.Name `xml:"ValueMetadata"`
	Version          string   `xml:"Version"`
	CreationDateTime string   `xml:"CreationDateTime"`
	TestID           string   `xml:"TestID"`
	TestName         string   `xml:"TestName"`
	DataType         string   `xml:"DataType"`
	Flagstouse       string   `xml:"Flagstouse"`
	Oktousevalues    string   `xml:"Oktousevalues"`
	MaxStringLength  string   `xml:"MaxStringLength,omitempty"`
	NormalUnits      string   `xml:"UnitValues>NormalUnits"`
}

// valueDataTypes maps primitive local names to ValueMetadata data types.
var valueDataTypes = map[string]string{
	"integer":            "Integer",
	"int":                "Integer",
	"long":               "Integer",
	"positiveInt":        "PosInteger",
	"positiveInteger":    "PosInteger",
	"unsignedInt":        "PosInteger",
	"nonNegativeInteger": "PosInteger",
	"decimal":            "Float",
	"double":             "Float",
	"float":              "Float",
	"date":               "Date",
	"dateTime":           "Date",
	"instant":            "Date",
	"gYear":              "Date",
	"gYearMonth":         "Date",
}

// valueDataType returns the ValueMetadata data type for a primitive range.
func valueDataType(rangeLocal string) string {
	if dt, ok := valueDataTypes[rangeLocal]; ok {
		return dt
	}
	return "String"
}

// metadataXML renders the ValueMetadata document for a leaf with the given
// basecode, name and primitive range.
func metadataXML(code, name, rangeLocal string, now time.Time) (string, error) {
	vm := ValueMetadata{
		Version:          "3.02",
		CreationDateTime: now.Format("01/02/2006 15:04:05"),
		TestID:           code,
		TestName:         name,
		DataType:         valueDataType(rangeLocal),
		Oktousevalues:    "Y",
	}
	if vm.DataType == "String" {
		vm.MaxStringLength = "255"
	}
	out, err := xml.Marshal(vm)
	if err != nil {
		return "", err
	}
	return xml.Header + string(out), nil
}
