package ontology

import (
	"strings"
	"time"
)

// Visual attributes of an ontology entry. The first letter is the node kind,
// the second is A (active) or H (hidden).
const (
	VisualContainer         = "CA"
	VisualFolder            = "FA"
	VisualLeaf              = "LA"
	VisualLeafHidden        = "LH"
	VisualModifierContainer = "DA"
	VisualModifierFolder    = "OA"
	VisualModifierLeaf      = "RA"
)

// Sep separates path segments. Paths always start and end with it.
const Sep = `\`

// NoAppliedPath marks a concept entry (modifiers name the concept path they
// apply to).
const NoAppliedPath = "@"

// Entry is one row of the ontology browse table.
type Entry struct {
	HLevel           int       `db:"c_hlevel" json:"hlevel"`
	FullName         string    `db:"c_fullname" json:"fullname"`
	Name             string    `db:"c_name" json:"name"`
	SynonymCD        string    `db:"c_synonym_cd" json:"synonym_cd"`
	VisualAttributes string    `db:"c_visualattributes" json:"visualattributes"`
	BaseCode         string    `db:"c_basecode" json:"basecode,omitempty"`
	MetadataXML      string    `db:"c_metadataxml" json:"metadataxml,omitempty"`
	FactTableColumn  string    `db:"c_facttablecolumn" json:"facttablecolumn"`
	TableName        string    `db:"c_tablename" json:"tablename"`
	ColumnName       string    `db:"c_columnname" json:"columnname"`
	ColumnDataType   string    `db:"c_columndatatype" json:"columndatatype"`
	Operator         string    `db:"c_operator" json:"operator"`
	DimCode          string    `db:"c_dimcode" json:"dimcode"`
	Tooltip          string    `db:"c_tooltip" json:"tooltip,omitempty"`
	AppliedPath      string    `db:"m_applied_path" json:"applied_path"`
	UpdateDate       time.Time `db:"update_date" json:"update_date"`
	SourcesystemCD   string    `db:"sourcesystem_cd" json:"sourcesystem_cd,omitempty"`
}

// IsModifier reports whether e belongs to the modifier forest.
func (e Entry) IsModifier() bool { return e.AppliedPath != NoAppliedPath }

// IsLeaf reports whether e is directly queryable.
func (e Entry) IsLeaf() bool {
	return strings.HasPrefix(e.VisualAttributes, "L") || strings.HasPrefix(e.VisualAttributes, "R")
}

type ConceptDimension struct {
	Path string `db:"concept_path" json:"concept_path"`
	Code string `db:"concept_cd" json:"concept_cd"`
	Name string `db:"name_char" json:"name_char"`
}

type ModifierDimension struct {
	Path string `db:"modifier_path" json:"modifier_path"`
	Code string `db:"modifier_cd" json:"modifier_cd"`
	Name string `db:"name_char" json:"name_char"`
}

// TableAccess registers the ontology table with the query tool.
type TableAccess struct {
	TableCD          string `db:"c_table_cd" json:"table_cd"`
	TableName        string `db:"c_table_name" json:"table_name"`
	ProtectedAccess  string `db:"c_protected_access" json:"protected_access"`
	HLevel           int    `db:"c_hlevel" json:"hlevel"`
	FullName         string `db:"c_fullname" json:"fullname"`
	Name             string `db:"c_name" json:"name"`
	SynonymCD        string `db:"c_synonym_cd" json:"synonym_cd"`
	VisualAttributes string `db:"c_visualattributes" json:"visualattributes"`
	FactTableColumn  string `db:"c_facttablecolumn" json:"facttablecolumn"`
	DimTableName     string `db:"c_dimtablename" json:"dimtablename"`
	ColumnName       string `db:"c_columnname" json:"columnname"`
	ColumnDataType   string `db:"c_columndatatype" json:"columndatatype"`
	Operator         string `db:"c_operator" json:"operator"`
	DimCode          string `db:"c_dimcode" json:"dimcode"`
	Tooltip          string `db:"c_tooltip" json:"tooltip"`
}

// Result is the output of one Build.
type Result struct {
	Concepts    []ConceptDimension  `json:"concepts"`
	Modifiers   []ModifierDimension `json:"modifiers"`
	Entries     []Entry             `json:"entries"`
	TableAccess TableAccess         `json:"table_access"`
}

// JoinPath renders segments as a terminated path: ("FHIR", "Observation")
// -> `\FHIR\Observation\`.
func JoinPath(segments ...string) string {
	var b strings.Builder
	b.WriteString(Sep)
	for _, s := range segments {
		b.WriteString(s)
		b.WriteString(Sep)
	}
	return b.String()
}

// HLevel is the depth of a terminated path: `\FHIR\` is 0.
func HLevel(path string) int {
	return strings.Count(path, Sep) - 2
}

func conceptEntry(path, name, code, visual string) Entry {
	return Entry{
		HLevel:           HLevel(path),
		FullName:         path,
		Name:             name,
		SynonymCD:        "N",
		VisualAttributes: visual,
		BaseCode:         code,
		FactTableColumn:  "concept_cd",
		TableName:        "concept_dimension",
		ColumnName:       "concept_path",
		ColumnDataType:   "T",
		Operator:         "LIKE",
		DimCode:          path,
		AppliedPath:      NoAppliedPath,
	}
}

func modifierEntry(path, name, code, visual, appliedPath string) Entry {
	return Entry{
		HLevel:           HLevel(path),
		FullName:         path,
		Name:             name,
		SynonymCD:        "N",
		VisualAttributes: visual,
		BaseCode:         code,
		FactTableColumn:  "modifier_cd",
		TableName:        "modifier_dimension",
		ColumnName:       "modifier_path",
		ColumnDataType:   "T",
		Operator:         "LIKE",
		DimCode:          path,
		AppliedPath:      appliedPath,
	}
}
