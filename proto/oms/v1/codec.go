// Package omsv1 описывает gRPC-контракт сервиса заказов (order_service.proto).
//
// Сообщения объявлены обычными Go-структурами с тегами protobuf. Кодек
// этого пакета заменяет стандартный кодек "proto": свои сообщения он
// переводит в dynamicpb по дескриптору файла, остальные (health, reflection)
// отдаёт google.golang.org/protobuf как есть. На проводе получается обычный
// protobuf, поэтому клиенты, сгенерированные из order_service.proto,
// работают с сервером без дополнительных настроек.
package omsv1

import (
	"fmt"
	"reflect"

	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/mem"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// CodecName совпадает с именем стандартного кодека gRPC.
const CodecName = "proto"

type codec struct{}

func (codec) Name() string {
	return CodecName
}

func (codec) Marshal(v any) (mem.BufferSlice, error) {
	data, err := marshal(v)
	if err != nil {
		return nil, err
	}
	return mem.BufferSlice{mem.SliceBuffer(data)}, nil
}

func (codec) Unmarshal(data mem.BufferSlice, v any) error {
	buf := data.MaterializeToBuffer(mem.DefaultBufferPool())
	defer buf.Free()
	return unmarshal(buf.ReadOnlyData(), v)
}

func marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case proto.Message:
		return proto.Marshal(m)
	case protoadapt.MessageV1:
		return proto.Marshal(protoadapt.MessageV2Of(m))
	}

	rv, b, err := lookup(v)
	if err != nil {
		return nil, err
	}
	msg := dynamicpb.NewMessage(b.desc)
	writeMessage(msg, rv)
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("omsv1 marshal %T: %w", v, err)
	}
	return data, nil
}

func unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case proto.Message:
		return proto.Unmarshal(data, m)
	case protoadapt.MessageV1:
		return proto.Unmarshal(data, protoadapt.MessageV2Of(m))
	}

	rv, b, err := lookup(v)
	if err != nil {
		return err
	}
	msg := dynamicpb.NewMessage(b.desc)
	if err := proto.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("omsv1 unmarshal %T: %w", v, err)
	}
	rv.SetZero()
	readMessage(msg, rv)
	return nil
}

func lookup(v any) (reflect.Value, *messageBinding, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return reflect.Value{}, nil, fmt.Errorf("omsv1: cannot encode %T", v)
	}
	b, ok := bindings[rv.Type().Elem()]
	if !ok {
		return reflect.Value{}, nil, fmt.Errorf("omsv1: %T is not a protobuf message", v)
	}
	return rv.Elem(), b, nil
}

// writeMessage копирует поля структуры rv в msg. Нулевые скаляры и nil
// пропускаются, как и в proto3.
func writeMessage(msg protoreflect.Message, rv reflect.Value) {
	for _, f := range bindings[rv.Type()].fields {
		fv := rv.Field(f.index)
		switch {
		case f.fd.IsList():
			if fv.Len() == 0 {
				continue
			}
			list := msg.Mutable(f.fd).List()
			for i := range fv.Len() {
				el := fv.Index(i)
				if el.IsNil() {
					continue
				}
				item := list.NewElement()
				writeMessage(item.Message(), el.Elem())
				list.Append(item)
			}
		case f.fd.Kind() == protoreflect.MessageKind:
			if fv.IsNil() {
				continue
			}
			writeMessage(msg.Mutable(f.fd).Message(), fv.Elem())
		case !fv.IsZero():
			msg.Set(f.fd, scalarOf(f.fd, fv))
		}
	}
}

func scalarOf(fd protoreflect.FieldDescriptor, fv reflect.Value) protoreflect.Value {
	switch fd.Kind() {
	case protoreflect.EnumKind:
		return protoreflect.ValueOfEnum(protoreflect.EnumNumber(fv.Int()))
	case protoreflect.Int32Kind:
		return protoreflect.ValueOfInt32(int32(fv.Int()))
	case protoreflect.Int64Kind:
		return protoreflect.ValueOfInt64(fv.Int())
	case protoreflect.BoolKind:
		return protoreflect.ValueOfBool(fv.Bool())
	default:
		return protoreflect.ValueOfString(fv.String())
	}
}

// readMessage заполняет структуру rv из msg.
func readMessage(msg protoreflect.Message, rv reflect.Value) {
	for _, f := range bindings[rv.Type()].fields {
		fv := rv.Field(f.index)
		switch {
		case f.fd.IsList():
			list := msg.Get(f.fd).List()
			if list.Len() == 0 {
				continue
			}
			out := reflect.MakeSlice(fv.Type(), 0, list.Len())
			for i := range list.Len() {
				el := reflect.New(fv.Type().Elem().Elem())
				readMessage(list.Get(i).Message(), el.Elem())
				out = reflect.Append(out, el)
			}
			fv.Set(out)
		case !msg.Has(f.fd):
		case f.fd.Kind() == protoreflect.MessageKind:
			el := reflect.New(fv.Type().Elem())
			readMessage(msg.Get(f.fd).Message(), el.Elem())
			fv.Set(el)
		case f.fd.Kind() == protoreflect.EnumKind:
			fv.SetInt(int64(msg.Get(f.fd).Enum()))
		case f.fd.Kind() == protoreflect.BoolKind:
			fv.SetBool(msg.Get(f.fd).Bool())
		case f.fd.Kind() == protoreflect.StringKind:
			fv.SetString(msg.Get(f.fd).String())
		default:
			fv.SetInt(msg.Get(f.fd).Int())
		}
	}
}

func init() {
	encoding.RegisterCodecV2(codec{})
}
