package server

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/mocha/classfile"
	"github.com/chazu/mocha/vm"
)

// ---------------------------------------------------------------------------
// Read-only views
// ---------------------------------------------------------------------------

func (s *Server) stats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	st := s.vm.Stats()
	return respond(map[string]any{
		"id":               s.vm.ID.String(),
		"classes":          st.Classes,
		"polymorphicViews": st.PolymorphicViews,
		"internedStrings":  st.InternedStrings,
		"natives":          st.Natives,
		"memory": map[string]any{
			"liveBlocks":   st.Memory.LiveBlocks,
			"liveBytes":    float64(st.Memory.LiveBytes),
			"directBlocks": st.Memory.DirectBlocks,
			"objects":      st.Memory.Objects,
			"classOops":    st.Memory.ClassOops,
			"allocations":  float64(st.Memory.Allocations),
			"frees":        float64(st.Memory.Frees),
			"collisions":   float64(st.Memory.Collisions),
		},
		"caches": cacheStats(st.Caches),
	})
}

func (s *Server) caches(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return respond(cacheStats(s.vm.CacheStats()))
}

func cacheStats(cs vm.CacheStats) map[string]any {
	return map[string]any{
		"callSites":       cs.CallSites,
		"resolvedCalls":   cs.ResolvedCalls,
		"fieldSites":      cs.FieldSites,
		"resolvedFields":  cs.ResolvedFields,
		"monomorphic":     cs.Monomorphic,
		"polymorphic":     cs.Polymorphic,
		"megamorphic":     cs.Megamorphic,
		"hits":            float64(cs.TotalHits),
		"misses":          float64(cs.TotalMisses),
		"hitRate":         cs.HitRate,
		"monomorphicRate": cs.MonomorphicRate,
	}
}

func (s *Server) classes(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	prefix := req.GetFields()["prefix"].GetStringValue()
	loaded := s.vm.Classes()
	slices.SortFunc(loaded, func(a, b *vm.InstanceClass) int { return strings.Compare(a.Name(), b.Name()) })

	list := make([]any, 0, len(loaded))
	for _, c := range loaded {
		if !strings.HasPrefix(c.Name(), prefix) {
			continue
		}
		list = append(list, map[string]any{
			"name":   c.Name(),
			"state":  c.State().String(),
			"linked": c.Linked(),
		})
	}
	return respond(map[string]any{"classes": list})
}

func (s *Server) class(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, err := stringField(req, "name")
	if err != nil {
		return nil, err
	}
	c := s.vm.BootLoader().FindLoaded(name)
	if c == nil {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("class %s is not loaded", name))
	}

	info := map[string]any{
		"name":      c.Name(),
		"modifiers": c.Modifiers(),
		"state":     c.State().String(),
		"linked":    c.Linked(),
	}
	if !c.Linked() {
		return respond(info)
	}
	if super := c.Super(); super != nil {
		info["super"] = super.Name()
	}
	var ifaces []any
	for _, i := range c.Interfaces() {
		ifaces = append(ifaces, i.Name())
	}
	info["interfaces"] = ifaces
	info["instanceSize"] = float64(c.InstanceSize())
	info["staticSize"] = float64(c.StaticSize())
	if oop := c.Oop(); oop != nil {
		info["oop"] = float64(oop.Address())
	}

	var fields []any
	for _, f := range c.Fields() {
		fields = append(fields, map[string]any{
			"name":   f.Name,
			"desc":   f.Desc,
			"offset": float64(f.Offset),
			"slot":   f.Slot,
			"static": f.IsStatic(),
		})
	}
	info["fields"] = fields

	var methods []any
	for _, m := range c.Methods() {
		entry := map[string]any{
			"name":     m.Name,
			"desc":     m.Desc,
			"static":   m.IsStatic(),
			"native":   m.IsNative(),
			"abstract": m.IsAbstract(),
		}
		var code []any
		for _, n := range m.Nodes() {
			code = append(code, vm.OpcodeName(n.Opcode()))
		}
		entry["code"] = code
		methods = append(methods, entry)
	}
	info["methods"] = methods
	return respond(info)
}

func (s *Server) allocation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	v, ok := req.GetFields()["address"]
	if !ok {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("address is required"))
	}
	addr := uint32(v.GetNumberValue())
	b := s.vm.Memory().Block(addr)
	if b == nil {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("no block at %#08x", addr))
	}
	info := map[string]any{
		"address": float64(addr),
		"size":    b.Size(),
		"direct":  b.IsDirect(),
		"kind":    b.Kind(),
	}
	if b.Kind() != "raw" {
		info["class"] = s.vm.ClassOf(s.vm.Memory().Value(addr)).Name()
	}
	return respond(info)
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

func (s *Server) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

func (s *Server) load(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, err := stringField(req, "name")
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	t := s.vm.NewThread(ctx, "inspector")
	jc, err := s.vm.InitializeClass(t, name)
	if err != nil {
		return nil, guestError(err)
	}
	return respond(map[string]any{"name": jc.Name()})
}

func (s *Server) invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	class, err := stringField(req, "class")
	if err != nil {
		return nil, err
	}
	method, err := stringField(req, "method")
	if err != nil {
		return nil, err
	}
	desc, err := stringField(req, "desc")
	if err != nil {
		return nil, err
	}
	mt, err := classfile.ParseMethodDescriptor(desc)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	raw := req.GetFields()["args"].GetListValue().GetValues()
	if len(raw) != len(mt.Args) {
		return nil, connect.NewError(connect.CodeInvalidArgument,
			fmt.Errorf("%s takes %d arguments, got %d", desc, len(mt.Args), len(raw)))
	}

	ctx, cancel := s.requestContext(ctx)
	defer cancel()
	t := s.vm.NewThread(ctx, "inspector")

	args := make([]vm.Value, len(raw))
	for i, arg := range raw {
		if args[i], err = s.toValue(t, mt.Args[i], arg); err != nil {
			return nil, err
		}
	}
	result, err := s.vm.InvokeStatic(t, class, method, desc, args...)
	if err != nil {
		return nil, guestError(err)
	}
	return respond(map[string]any{"result": s.fromValue(mt.ReturnSort(), result)})
}

// toValue converts a JSON argument to a frame value of the descriptor's
// type. Strings are accepted for java/lang/String parameters.
func (s *Server) toValue(t *vm.Thread, desc string, arg *structpb.Value) (vm.Value, error) {
	if _, null := arg.GetKind().(*structpb.Value_NullValue); null && classfile.SortOf(desc).IsReference() {
		return vm.Null, nil
	}
	switch classfile.SortOf(desc) {
	case classfile.SortBoolean:
		if _, ok := arg.GetKind().(*structpb.Value_BoolValue); ok {
			return vm.Bool(arg.GetBoolValue()), nil
		}
		return vm.Bool(arg.GetNumberValue() != 0), nil
	case classfile.SortByte, classfile.SortChar, classfile.SortShort, classfile.SortInt:
		return vm.Int(int32(arg.GetNumberValue())), nil
	case classfile.SortLong:
		if sv, ok := arg.GetKind().(*structpb.Value_StringValue); ok {
			n, err := strconv.ParseInt(sv.StringValue, 10, 64)
			if err != nil {
				return vm.Value{}, connect.NewError(connect.CodeInvalidArgument, err)
			}
			return vm.Long(n), nil
		}
		return vm.Long(int64(arg.GetNumberValue())), nil
	case classfile.SortFloat:
		return vm.Float(float32(arg.GetNumberValue())), nil
	case classfile.SortDouble:
		return vm.Double(arg.GetNumberValue()), nil
	case classfile.SortObject:
		if sv, ok := arg.GetKind().(*structpb.Value_StringValue); ok && desc == "Ljava/lang/String;" {
			str, err := s.vm.Intern(t, sv.StringValue)
			if err != nil {
				return vm.Value{}, guestError(err)
			}
			return vm.Ref(str), nil
		}
	}
	return vm.Value{}, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("cannot pass %v as %s", arg.AsInterface(), desc))
}

// fromValue converts a return value to JSON. Longs travel as strings so
// they survive a round trip through a double.
func (s *Server) fromValue(sort classfile.Sort, v vm.Value) any {
	switch sort {
	case classfile.SortVoid:
		return nil
	case classfile.SortBoolean:
		return v.AsInt() != 0
	case classfile.SortLong:
		return strconv.FormatInt(v.AsLong(), 10)
	case classfile.SortFloat:
		return finite(float64(v.AsFloat()))
	case classfile.SortDouble:
		return finite(v.AsDouble())
	case classfile.SortObject, classfile.SortArray:
		obj := v.AsRef()
		if obj == nil {
			return nil
		}
		jc := s.vm.ClassOf(obj)
		if jc.Name() == vm.StringClass {
			return s.vm.GoString(obj)
		}
		return map[string]any{"class": jc.Name(), "address": float64(obj.Address())}
	}
	return v.AsInt()
}

// finite spells out the values JSON has no number for.
func finite(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}
