package diagnostics

import (
	"fmt"
	"reflect"

	"github.com/ulala-x/playhouse-go/internal/apihost"
)

// noopScope is the no-op apihost.Scope this container hands out: diagnostic
// controllers carry no per-invocation resources to release.
type noopScope struct{}

func (noopScope) Dispose() {}

// Container is the minimal apihost.Container a deployment can fall back to
// when it has no real DI container of its own: every controller type it
// serves must be newable via reflect.New with no constructor arguments.
type Container struct{}

func (Container) NewScope() apihost.Scope { return noopScope{} }

func (Container) New(_ apihost.Scope, t reflect.Type) (apihost.Controller, error) {
	var v reflect.Value
	if t.Kind() == reflect.Pointer {
		v = reflect.New(t.Elem())
	} else {
		v = reflect.New(t).Elem()
	}
	ctrl, ok := v.Interface().(apihost.Controller)
	if !ok {
		return nil, fmt.Errorf("diagnostics: type %s does not implement apihost.Controller", t)
	}
	return ctrl, nil
}
