package content

// Pseudo-field names that have no backing Field.
const (
	ActionsFieldName  = "Actions"
	ChildrenFieldName = "Children"
	IconFieldName     = "Icon"
	IsFileFieldName   = "IsFile"
)

// PseudoFieldNames lists the pseudo-fields in output order.
var PseudoFieldNames = []string{ActionsFieldName, ChildrenFieldName, IconFieldName, IsFileFieldName}

var disabledFieldNames = map[string]bool{
	"Password":         true,
	"PasswordHash":     true,
	"TypeIs":           true,
	"InTree":           true,
	"InFolder":         true,
	"NodeType":         true,
	"SavingState":      true,
	"Rate":             true,
	"RateStr":          true,
	"RateAvg":          true,
	"RateCount":        true,
	"CheckInComments":  true,
	"RejectReason":     true,
	"SharingData":      true,
	"SyncGuid":         true,
	"LastSync":         true,
	"OwnerWhenVisitor": true,
}

var deferredFieldNames = map[string]bool{
	"AllowedChildTypes":          true,
	"EffectiveAllowedChildTypes": true,
	"Versions":                   true,
}

var protectedFieldNames = map[string]bool{
	"Id":               true,
	"ParentId":         true,
	"Name":             true,
	"Path":             true,
	"Type":             true,
	"CreationDate":     true,
	"CreatedBy":        true,
	"ModificationDate": true,
	"ModifiedBy":       true,
	"Version":          true,
}

// IsDisabledField reports whether name is reserved by the repository and never surfaced.
func IsDisabledField(name string) bool {
	return disabledFieldNames[name]
}

// IsDeferredField reports whether the field renders as a deferred link unless expanded.
func IsDeferredField(setting *FieldSetting) bool {
	return setting.Deferred || deferredFieldNames[setting.Name]
}

// IsProtectedField reports whether a full update leaves the field untouched.
func IsProtectedField(name string) bool {
	return protectedFieldNames[name]
}

// IsPseudoField reports whether name is a synthetic field.
func IsPseudoField(name string) bool {
	switch name {
	case ActionsFieldName, ChildrenFieldName, IconFieldName, IsFileFieldName:
		return true
	}
	return false
}
