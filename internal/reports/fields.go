package reports

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

// Field block kinds. New kinds register themselves via RegisterFieldBlock.
const (
	FieldImplementationPhase = "implementation_phase"
	FieldAttributeType       = "attribute_type"
	FieldResponsibleParty    = "responsible_party"
)

// FieldData is the prefetched plan context the field blocks read from.
// Loaded once per export, never mutated afterwards.
type FieldData struct {
	Phases             map[string]store.ImplementationPhase
	AttributeTypes     map[string]store.AttributeType
	Choices            map[string]store.AttributeChoice
	Categories         map[string]store.Category
	ActionAttributes   map[string][]store.Attribute // action id -> attributes
	ResponsibleParties map[string][]store.ActionResponsibleParty
	Organizations      map[string]store.Organization
}

// FieldBlock renders one column of a report: a label, a per-action value
// and the cell style used in the XLSX export.
type FieldBlock interface {
	ColumnLabel() string
	ValueForAction(a store.Action, data *FieldData) string
	ValueForSnapshot(a store.Action, data *FieldData) string
	XLSXCellStyle(f *excelize.File) (int, error)
	HelpPanel(a store.Action, data *FieldData) string
}

// BlockConstructor builds a block from its schema entry.
type BlockConstructor func(field store.ReportField) (FieldBlock, error)

var fieldBlockRegistry = map[string]BlockConstructor{}

func RegisterFieldBlock(kind string, ctor BlockConstructor) {
	fieldBlockRegistry[kind] = ctor
}

// BlocksForFields resolves a field schema into its block implementations,
// preserving order.
func BlocksForFields(fields []store.ReportField) ([]FieldBlock, error) {
	blocks := make([]FieldBlock, 0, len(fields))
	for _, field := range fields {
		ctor, ok := fieldBlockRegistry[field.Kind]
		if !ok {
			return nil, fmt.Errorf("unknown report field kind %q", field.Kind)
		}
		block, err := ctor(field)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func init() {
	RegisterFieldBlock(FieldImplementationPhase, func(field store.ReportField) (FieldBlock, error) {
		return &implementationPhaseBlock{label: field.Label}, nil
	})
	RegisterFieldBlock(FieldAttributeType, func(field store.ReportField) (FieldBlock, error) {
		if field.AttributeTypeID == "" {
			return nil, fmt.Errorf("attribute_type field without attribute_type_id")
		}
		return &attributeTypeBlock{typeID: field.AttributeTypeID, label: field.Label}, nil
	})
	RegisterFieldBlock(FieldResponsibleParty, func(field store.ReportField) (FieldBlock, error) {
		return &responsiblePartyBlock{label: field.Label}, nil
	})
}

// --- Implementation phase ---

type implementationPhaseBlock struct {
	label   string
	styleID int
	styled  bool
}

func (b *implementationPhaseBlock) ColumnLabel() string {
	if b.label != "" {
		return b.label
	}
	return "Implementation phase"
}

func (b *implementationPhaseBlock) ValueForAction(a store.Action, data *FieldData) string {
	if a.ImplementationPhaseID == nil {
		return ""
	}
	if phase, ok := data.Phases[*a.ImplementationPhaseID]; ok {
		return phase.Name
	}
	return ""
}

func (b *implementationPhaseBlock) ValueForSnapshot(a store.Action, data *FieldData) string {
	// The phase pointer is part of the versioned action state.
	return b.ValueForAction(a, data)
}

func (b *implementationPhaseBlock) XLSXCellStyle(f *excelize.File) (int, error) {
	if b.styled {
		return b.styleID, nil
	}
	id, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return 0, fmt.Errorf("phase cell style: %w", err)
	}
	b.styleID, b.styled = id, true
	return id, nil
}

func (b *implementationPhaseBlock) HelpPanel(a store.Action, data *FieldData) string {
	value := b.ValueForAction(a, data)
	if value == "" {
		return "No implementation phase recorded"
	}
	return "Implementation phase: " + value
}

// --- Attribute type ---

type attributeTypeBlock struct {
	typeID  string
	label   string
	styleID int
	styled  bool
}

func (b *attributeTypeBlock) ColumnLabel() string {
	if b.label != "" {
		return b.label
	}
	return b.typeID
}

func (b *attributeTypeBlock) attributeFor(actionID string, data *FieldData) (store.Attribute, bool) {
	for _, attr := range data.ActionAttributes[actionID] {
		if attr.TypeID == b.typeID {
			return attr, true
		}
	}
	return store.Attribute{}, false
}

func (b *attributeTypeBlock) ValueForAction(a store.Action, data *FieldData) string {
	attr, ok := b.attributeFor(a.ID, data)
	if !ok {
		return ""
	}
	at := data.AttributeTypes[b.typeID]
	switch at.Format {
	case store.FormatNumeric:
		if attr.Numeric == nil {
			return ""
		}
		value := strconv.FormatFloat(*attr.Numeric, 'f', -1, 64)
		if at.Unit != "" {
			return value + " " + at.Unit
		}
		return value
	case store.FormatOrderedChoice, store.FormatOptionalChoice:
		if attr.ChoiceID == nil {
			return ""
		}
		return data.Choices[*attr.ChoiceID].Name
	case store.FormatCategoryChoice:
		if attr.CategoryID == nil {
			return ""
		}
		return data.Categories[*attr.CategoryID].Name
	case store.FormatRichText:
		return stripTags(attr.RichText)
	default:
		return attr.Text
	}
}

func (b *attributeTypeBlock) ValueForSnapshot(a store.Action, data *FieldData) string {
	return b.ValueForAction(a, data)
}

func (b *attributeTypeBlock) XLSXCellStyle(f *excelize.File) (int, error) {
	if b.styled {
		return b.styleID, nil
	}
	id, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return 0, fmt.Errorf("attribute cell style: %w", err)
	}
	b.styleID, b.styled = id, true
	return id, nil
}

func (b *attributeTypeBlock) HelpPanel(a store.Action, data *FieldData) string {
	at := data.AttributeTypes[b.typeID]
	value := b.ValueForAction(a, data)
	if value == "" {
		return at.Name + ": not set"
	}
	return at.Name + ": " + value
}

// --- Responsible party ---

type responsiblePartyBlock struct {
	label   string
	styleID int
	styled  bool
}

func (b *responsiblePartyBlock) ColumnLabel() string {
	if b.label != "" {
		return b.label
	}
	return "Responsible parties"
}

func (b *responsiblePartyBlock) ValueForAction(a store.Action, data *FieldData) string {
	parties := data.ResponsibleParties[a.ID]
	if len(parties) == 0 {
		return ""
	}
	sorted := make([]store.ActionResponsibleParty, len(parties))
	copy(sorted, parties)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SortOrder < sorted[j].SortOrder })

	names := make([]string, 0, len(sorted))
	for _, p := range sorted {
		if org, ok := data.Organizations[p.OrganizationID]; ok {
			names = append(names, org.Name)
		}
	}
	return strings.Join(names, "; ")
}

func (b *responsiblePartyBlock) ValueForSnapshot(a store.Action, data *FieldData) string {
	return b.ValueForAction(a, data)
}

func (b *responsiblePartyBlock) XLSXCellStyle(f *excelize.File) (int, error) {
	if b.styled {
		return b.styleID, nil
	}
	id, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return 0, fmt.Errorf("responsible party cell style: %w", err)
	}
	b.styleID, b.styled = id, true
	return id, nil
}

func (b *responsiblePartyBlock) HelpPanel(a store.Action, data *FieldData) string {
	value := b.ValueForAction(a, data)
	if value == "" {
		return "No responsible parties"
	}
	return "Responsible parties: " + value
}

// stripTags removes markup for plain-cell rendering.
func stripTags(s string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}
