package ledger

import "fmt"

// ActionType tags a management action
type ActionType string

const (
	ActionNone         ActionType = "none"
	ActionPartialClose ActionType = "partial_close"
	ActionUpdateStop   ActionType = "update_stop"
	ActionPromote      ActionType = "promote_to_swing"
	ActionPyramidAdd   ActionType = "pyramid_add"
)

// Action is one advisory management action for a position. Only the
// field matching the type is meaningful.
type Action struct {
	Type    ActionType `json:"type"`
	Symbol  string     `json:"symbol"`
	Percent float64    `json:"percent,omitempty"` // partial_close: fraction of size in (0,1]
	Price   float64    `json:"price,omitempty"`   // update_stop: new working stop
	Size    float64    `json:"size,omitempty"`    // pyramid_add: base-asset quantity
	Reason  string     `json:"reason,omitempty"`
}

// PartialClose builds a partial-close action
func PartialClose(symbol string, percent float64, reason string) Action {
	return Action{Type: ActionPartialClose, Symbol: symbol, Percent: percent, Reason: reason}
}

// UpdateStop builds a stop-update action
func UpdateStop(symbol string, price float64, reason string) Action {
	return Action{Type: ActionUpdateStop, Symbol: symbol, Price: price, Reason: reason}
}

// Promote builds a promotion action
func Promote(symbol string, reason string) Action {
	return Action{Type: ActionPromote, Symbol: symbol, Reason: reason}
}

// PyramidAdd builds a pyramid-add action
func PyramidAdd(symbol string, size float64, reason string) Action {
	return Action{Type: ActionPyramidAdd, Symbol: symbol, Size: size, Reason: reason}
}

func (a Action) String() string {
	switch a.Type {
	case ActionPartialClose:
		return fmt.Sprintf("partial_close %s %.0f%%", a.Symbol, a.Percent*100)
	case ActionUpdateStop:
		return fmt.Sprintf("update_stop %s -> %.6g", a.Symbol, a.Price)
	case ActionPromote:
		return fmt.Sprintf("promote_to_swing %s", a.Symbol)
	case ActionPyramidAdd:
		return fmt.Sprintf("pyramid_add %s +%.6g", a.Symbol, a.Size)
	default:
		return "none"
	}
}
