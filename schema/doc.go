// Package schema defines the type descriptor model shared by every codec in
// typewire.
//
// A descriptor (*Type) is an immutable tree describing what a value must
// look like: scalars with optional constraints, containers, unions, enums,
// literals and record types. Descriptors are built from Go types with Of or
// For, or assembled explicitly:
//
//	type User struct {
//		Name  string   `tw:"name" meta:"min_length=1"`
//		Email *string  `tw:"email"`
//		Tags  []string `tw:"tags" default:"[]"`
//	}
//
//	t, err := schema.For[User]()
//
// Struct layout follows a few rules: embedded structs contribute their
// fields first, an outer field overriding a base field takes the outer
// position, keyword-only fields move to the end and, for configured
// structs, a required positional field may not follow a defaulted one.
// Types opt into tags, array encoding, unknown-field rejection and the
// other struct options by implementing Configured.
//
// Check validates a descriptor for a wire format (union ambiguity, tag
// conflicts, unsupported keys). Codecs call it when they are constructed so
// schema problems never surface mid-decode.
package schema
