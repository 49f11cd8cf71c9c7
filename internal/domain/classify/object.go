package classify

import (
	"fmt"

	"github.com/okian/proctor/internal/domain/model"
)

// Detector labels that map to prohibited-object events.
var (
	PhoneClasses      = []string{"cell phone"}
	ProhibitedClasses = []string{"book", "laptop"}
)

// ProhibitedObject fires on any pass that sees one of its classes.
type ProhibitedObject struct {
	base
	classes map[string]struct{}
}

// NewObjectClassifier builds a classifier reporting t for any of classes.
func NewObjectClassifier(t model.EventType, classes []string, opts ...Option) *ProhibitedObject {
	set := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		set[c] = struct{}{}
	}
	return &ProhibitedObject{base: newBase(t, SourceObjects, 0, 0, opts), classes: set}
}

// NewCellPhone reports cellPhone for phones.
func NewCellPhone(opts ...Option) *ProhibitedObject {
	return NewObjectClassifier(model.CellPhone, PhoneClasses, opts...)
}

// NewProhibitedObject reports prohibitedObject for books and laptops.
func NewProhibitedObject(opts ...Option) *ProhibitedObject {
	return NewObjectClassifier(model.ProhibitedObject, ProhibitedClasses, opts...)
}

// Evaluate implements Classifier. The threshold is a minimum detector score.
func (c *ProhibitedObject) Evaluate(obs Observation) (bool, string) {
	for _, o := range obs.Objects {
		if _, ok := c.classes[o.Class]; !ok || o.Score < c.threshold {
			continue
		}
		return true, fmt.Sprintf("Prohibited object detected: %s", o.Class)
	}
	return false, ""
}
