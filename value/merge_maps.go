package value

// MergeLayers flattens several Mapping layers into one; later layers
// win over earlier ones on key conflicts. It builds a RenderContext's
// globals from, in increasing precedence order, environment globals,
// template front matter, and render-call variables.
//
// The merge is materialized eagerly into a single ordered Mapping:
// globals are read-only for the lifetime of a render, so there is no
// benefit to deferring it, and an eager mapping keeps GetMember/Keys
// simple for the evaluator.
func MergeLayers(layers ...Value) Value {
	out := newOrderedMap()
	for _, layer := range layers {
		if layer.Kind() != KindMapping {
			continue
		}
		for _, k := range layer.Keys() {
			v, _ := layer.MapGet(k)
			out.set(k, v)
		}
	}
	return Value{data: out}
}
