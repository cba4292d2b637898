package cluster

// Reporter accepts attribute updates as if they came from the device.
type Reporter interface {
	HandleReport(r Report)
}

// Synthesize pushes an attribute update into target exactly as a wire report
// would arrive. Transforms are the caller's job; this never fails.
func Synthesize(target Reporter, attrID uint16, value any) {
	target.HandleReport(Report{AttrID: attrID, Value: value, Synthetic: true})
}
