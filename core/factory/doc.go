// Package factory provides a small generic registry used to build pluggable
// components, such as flow matchers or metrics sinks, from configuration. A
// component is described by a type name and a map of raw settings; its factory
// decodes the settings into a typed struct and returns the implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[flow.Matcher]()
//	_ = reg.Register("lp", func(conf map[string]any) (flow.Matcher, error) {
//	    var c struct{ MaxVariables int `json:"max_variables"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return flow.NewOptimalMatcher(c.MaxVariables), nil
//	})
//	m, err := reg.Create(factory.ModuleConfig{Type: "lp", Conf: map[string]any{"max_variables": 400}})
package factory
