// Package apihost implements the stateless Api handler invoker of spec.md
// §4.N: a msgId → (controllerType, method) table built once at startup by
// introspecting each registered controller, and a reflect-based dispatch
// path that allocates a scope, constructs the controller through the host's
// DI container, invokes the matched method, and disposes the scope.
//
// No example in this module's lineage pulls in a dependency-injection
// library (no wire/fx/dig-style container appears anywhere in the pack's
// go.mod files), so Container here is a narrow interface the embedding
// application supplies — this package only does the reflection-based
// routing table and invocation, the same posture the pack takes toward
// reflect-based dispatch (see e.g. the agent/session handler lookups in the
// wider Go game-server ecosystem this corpus draws from).
package apihost

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/ulala-x/playhouse-go/internal/packet"
	"github.com/ulala-x/playhouse-go/internal/playerror"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	packetType  = reflect.TypeOf(packet.Packet{})
	linkType    = reflect.TypeOf((*Link)(nil))
)

// Controller is implemented by every Api handler type. Handles is called
// once at registration time against a recording Registrar so the host can
// build its msgId routing table without the application hand-maintaining
// one.
type Controller interface {
	Handles(r *Registrar)
}

// Registrar records (msgId -> methodName) pairs during a Controller's
// Handles call.
type Registrar struct {
	routes map[string]string
}

// Register binds msgID to the controller method named methodName. Calling
// Register twice for the same msgID within one Controller's Handles call
// overwrites the earlier mapping; cross-controller duplicates are caught by
// Host.Register.
func (r *Registrar) Register(msgID, methodName string) {
	if r.routes == nil {
		r.routes = make(map[string]string)
	}
	r.routes[msgID] = methodName
}

// Scope is a per-invocation DI scope from the host container; Dispose
// releases whatever it allocated (e.g. a pooled DB connection).
type Scope interface {
	Dispose()
}

// Container is the minimal DI surface apihost needs from the application
// host: open a scope, and within it construct a controller instance of the
// given type.
type Container interface {
	NewScope() Scope
	New(scope Scope, t reflect.Type) (Controller, error)
}

type route struct {
	controllerType reflect.Type
	method         reflect.Method
}

// Host is the msgId → handler routing table plus the container used to
// construct controller instances per call.
type Host struct {
	container Container
	logger    *slog.Logger

	mu     sync.RWMutex
	routes map[string]route
}

func NewHost(container Container, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{container: container, logger: logger, routes: make(map[string]route)}
}

// Register introspects ctrl's Handles method and adds every (msgId,
// methodName) pair it records to the routing table. Returns an error
// (startup should abort on it) if a msgId is already registered by another
// controller, or if methodName does not resolve to a method with the
// required (context.Context, packet.Packet, *Link) packet.Packet signature.
func (h *Host) Register(ctrl Controller) error {
	reg := &Registrar{}
	ctrl.Handles(reg)

	t := reflect.TypeOf(ctrl)
	h.mu.Lock()
	defer h.mu.Unlock()
	for msgID, methodName := range reg.routes {
		if _, exists := h.routes[msgID]; exists {
			return playerror.New(playerror.EncodeFailed, fmt.Sprintf("duplicate msgId registration: %s", msgID))
		}
		method, ok := t.MethodByName(methodName)
		if !ok {
			return playerror.New(playerror.EncodeFailed, fmt.Sprintf("unknown methodName %s on %s", methodName, t))
		}
		if err := validateSignature(method); err != nil {
			return err
		}
		h.routes[msgID] = route{controllerType: t, method: method}
		h.logger.Debug("apihost: registered handler", "msgId", msgID, "controller", t, "method", methodName)
	}
	return nil
}

func validateSignature(m reflect.Method) error {
	ft := m.Func.Type()
	// receiver + (ctx, packet, *Link)
	if ft.NumIn() != 4 || ft.NumOut() != 1 {
		return playerror.New(playerror.EncodeFailed, fmt.Sprintf("handler %s must take (context.Context, packet.Packet, *apihost.Link) and return packet.Packet", m.Name))
	}
	if ft.In(1) != contextType || ft.In(2) != packetType || ft.In(3) != linkType {
		return playerror.New(playerror.EncodeFailed, fmt.Sprintf("handler %s parameter types do not match (context.Context, packet.Packet, *apihost.Link)", m.Name))
	}
	if ft.Out(0) != packetType {
		return playerror.New(playerror.EncodeFailed, fmt.Sprintf("handler %s must return packet.Packet", m.Name))
	}
	return nil
}

// Invoke looks up msgID's handler, allocates a scope, constructs the
// controller, calls the matched method, and disposes the scope before
// returning. handled is false if no controller registered msgID.
func (h *Host) Invoke(ctx context.Context, msgID string, p packet.Packet, link *Link) (reply packet.Packet, handled bool) {
	h.mu.RLock()
	r, ok := h.routes[msgID]
	h.mu.RUnlock()
	if !ok {
		return packet.Packet{}, false
	}

	scope := h.container.NewScope()
	defer scope.Dispose()

	instance, err := h.container.New(scope, r.controllerType)
	if err != nil {
		h.logger.Error("apihost: controller construction failed", "msgId", msgID, "error", err)
		return packet.Packet{ErrorCode: uint16(playerror.CodeOf(err))}, true
	}

	results := r.method.Func.Call([]reflect.Value{
		reflect.ValueOf(instance),
		reflect.ValueOf(ctx),
		reflect.ValueOf(p),
		reflect.ValueOf(link),
	})
	return results[0].Interface().(packet.Packet), true
}
