package reconcile

import (
	"reflect"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// liveMatches reports whether live still carries every field the controller
// renders for desired. Fields added by the API server, admission or other
// controllers are ignored, except that rendered config maps must hold exactly
// the rendered keys. content is desired in unstructured form.
func liveMatches(content map[string]any, desired client.Object, live *unstructured.Unstructured) bool {
	for k, want := range content {
		switch k {
		case "apiVersion", "kind", "metadata", "status":
			continue
		case "data", "binaryData":
			if !sameKeys(want, live.Object[k]) {
				return false
			}
		}
		if !subset(want, live.Object[k]) {
			return false
		}
	}
	if metav1.GetControllerOf(live) == nil {
		return false
	}
	return stringsSubset(desired.GetLabels(), live.GetLabels()) &&
		stringsSubset(desired.GetAnnotations(), live.GetAnnotations())
}

// subset compares a rendered value against its live counterpart. Maps match
// when every rendered key matches, lists element by element. Zero scalars
// and nulls count as unset since the server may default them.
func subset(want, got any) bool {
	switch w := want.(type) {
	case nil:
		return true
	case map[string]any:
		g, _ := got.(map[string]any)
		for k, v := range w {
			if !subset(v, g[k]) {
				return false
			}
		}
		return true
	case []any:
		g, _ := got.([]any)
		if len(w) != len(g) {
			return false
		}
		for i := range w {
			if !subset(w[i], g[i]) {
				return false
			}
		}
		return true
	case string:
		g, _ := got.(string)
		return w == "" || w == g
	case bool:
		g, _ := got.(bool)
		return !w || g
	}
	if wn, ok := number(want); ok {
		gn, _ := number(got)
		return wn == 0 || wn == gn
	}
	return reflect.DeepEqual(want, got)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func sameKeys(want, got any) bool {
	w, _ := want.(map[string]any)
	g, _ := got.(map[string]any)
	if len(w) != len(g) {
		return false
	}
	for k := range g {
		if _, ok := w[k]; !ok {
			return false
		}
	}
	return true
}

func stringsSubset(want, got map[string]string) bool {
	for k, v := range want {
		if g, ok := got[k]; !ok || g != v {
			return false
		}
	}
	return true
}
