package cache

import "github.com/ponyfleet/ponyd/internal/ident"

// OperationStatus is the discriminant returned by every cache write, drawn from a closed set. The zero value is not
// meaningful; constructors below are the only way to produce one.
type OperationStatus struct {
	kind   statusKind
	ID     ident.ID
	Reason string // populated only for BadRequest
}

type statusKind int

const (
	kindOk statusKind = iota
	kindAlreadyExist
	kindNotModified
	kindUpdated
	kindUpdatedStat
	kindNotFound
	kindDeletedPreviously
	kindBadRequest
)

func Ok(id ident.ID) OperationStatus                { return OperationStatus{kind: kindOk, ID: id} }
func AlreadyExist(id ident.ID) OperationStatus       { return OperationStatus{kind: kindAlreadyExist, ID: id} }
func NotModified(id ident.ID) OperationStatus        { return OperationStatus{kind: kindNotModified, ID: id} }
func Updated(id ident.ID) OperationStatus            { return OperationStatus{kind: kindUpdated, ID: id} }
func UpdatedStat(id ident.ID) OperationStatus        { return OperationStatus{kind: kindUpdatedStat, ID: id} }
func NotFound(id ident.ID) OperationStatus           { return OperationStatus{kind: kindNotFound, ID: id} }
func DeletedPreviously(id ident.ID) OperationStatus  { return OperationStatus{kind: kindDeletedPreviously, ID: id} }
func BadRequest(id ident.ID, reason string) OperationStatus {
	return OperationStatus{kind: kindBadRequest, ID: id, Reason: reason}
}

func (s OperationStatus) IsOk() bool               { return s.kind == kindOk }
func (s OperationStatus) IsAlreadyExist() bool      { return s.kind == kindAlreadyExist }
func (s OperationStatus) IsNotModified() bool       { return s.kind == kindNotModified }
func (s OperationStatus) IsUpdated() bool           { return s.kind == kindUpdated }
func (s OperationStatus) IsUpdatedStat() bool       { return s.kind == kindUpdatedStat }
func (s OperationStatus) IsNotFound() bool          { return s.kind == kindNotFound }
func (s OperationStatus) IsDeletedPreviously() bool { return s.kind == kindDeletedPreviously }
func (s OperationStatus) IsBadRequest() bool        { return s.kind == kindBadRequest }

// Persisted reports whether the status represents a mutation that a write-back consumer (§4.6) should durably
// persist: Ok, Updated, and UpdatedStat per the write-back completeness property (§8 property 4).
func (s OperationStatus) Persisted() bool {
	switch s.kind {
	case kindOk, kindUpdated, kindUpdatedStat:
		return true
	default:
		return false
	}
}

func (s OperationStatus) String() string {
	switch s.kind {
	case kindOk:
		return "Ok"
	case kindAlreadyExist:
		return "AlreadyExist"
	case kindNotModified:
		return "NotModified"
	case kindUpdated:
		return "Updated"
	case kindUpdatedStat:
		return "UpdatedStat"
	case kindNotFound:
		return "NotFound"
	case kindDeletedPreviously:
		return "DeletedPreviously"
	case kindBadRequest:
		return "BadRequest"
	default:
		return "Unknown"
	}
}
