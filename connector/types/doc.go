// Package types holds the translator and protocol adapter pipeline that sits
// between a connector's native data and the platform's typed data.
//
// A pipeline has four type parameters: O and I are the connector-native
// output and input types, CO and CI the platform output and input types.
// Data received from a device flows O -> CO through an OutputTranslator,
// data written to a device flows CI -> I through an InputTranslator.
//
// Two adapter shapes exist. TranslatingProtocolAdapter shares one
// model.ModelAccess between both translators and initializes it exactly
// once per access instance. ChannelTranslatingProtocolAdapter has no model
// and routes payloads over named input and output channels.
//
// TypeTranslator converts between a string representation and a typed value.
// The service reconfiguration engine uses it to parse parameter values.
package types
