// Package model provides qualified-name addressed access to a device's
// information model.
//
// A ModelAccess reads and writes primitive properties and structs, invokes
// operations and arms change notifications. Qualified names are composed of
// segments joined by the access' separator (QName). A name is either a
// primitive property or a struct, never both; using the other accessor fails
// with errors.ErrWrongKind while unknown names fail with errors.ErrNotFound.
//
// Scoped addressing is explicit. StepInto returns a new ModelAccess bound to a
// child Path and StepOut returns one bound to the parent, so two goroutines
// holding different scopes never observe each other's navigation:
//
//	machine, err := access.StepInto("machine")
//	if err != nil {
//	    return err
//	}
//	lot, err := machine.Get("lotSize") // resolves "machine/lotSize"
//
// MemoryAccess is a map backed implementation over a shared Store. Several
// accesses (sessions) may be opened on the same store; disposing one releases
// its monitors without touching the stored values.
package model
