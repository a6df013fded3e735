package builder

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/client"
)

// computeHash returns a short stable digest of anything JSON serializable.
func computeHash(obj any) string {
	data, _ := json.Marshal(obj)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:8])
}

// SpecHash digests the desired content of obj, ignoring its own hash annotation.
func SpecHash(obj client.Object) string {
	cp := obj.DeepCopyObject().(client.Object)
	if ann := cp.GetAnnotations(); ann != nil {
		delete(ann, AnnotationSpecHash)
		if len(ann) == 0 {
			ann = nil
		}
		cp.SetAnnotations(ann)
	}
	return computeHash(cp)
}

// stampHash records the spec hash on obj.
func stampHash(obj client.Object) {
	h := SpecHash(obj)
	ann := obj.GetAnnotations()
	if ann == nil {
		ann = map[string]string{}
	}
	ann[AnnotationSpecHash] = h
	obj.SetAnnotations(ann)
}
