package omsv1

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	protoFileName = "oms/v1/order_service.proto"
	protoPackage  = "oms.v1"
	goPackage     = "github.com/vladislavdragonenkov/storefront-oms/proto/oms/v1;omsv1"
)

// File_oms_v1_order_service_proto - дескриптор order_service.proto,
// собранный по тегам protobuf Go-структур этого пакета.
var File_oms_v1_order_service_proto protoreflect.FileDescriptor

// fieldBinding связывает поле структуры с полем дескриптора.
type fieldBinding struct {
	index int
	fd    protoreflect.FieldDescriptor
}

type messageBinding struct {
	desc   protoreflect.MessageDescriptor
	fields []fieldBinding
}

var (
	bindings        map[reflect.Type]*messageBinding
	orderStatusType = reflect.TypeOf(OrderStatus(0))
)

func init() {
	file, err := buildFileDescriptorProto()
	if err != nil {
		panic(err)
	}
	fd, err := protodesc.NewFile(file, new(protoregistry.Files))
	if err != nil {
		panic(fmt.Errorf("omsv1: build %s: %w", protoFileName, err))
	}
	File_oms_v1_order_service_proto = fd

	bindings = make(map[reflect.Type]*messageBinding, len(messageTypes))
	for _, m := range messageTypes {
		t := reflect.TypeOf(m).Elem()
		md := fd.Messages().ByName(protoreflect.Name(t.Name()))
		b := &messageBinding{desc: md}
		for i := range t.NumField() {
			number, _, ok := parseProtoTag(t.Field(i).Tag.Get("protobuf"))
			if !ok {
				continue
			}
			b.fields = append(b.fields, fieldBinding{index: i, fd: md.Fields().ByNumber(number)})
		}
		bindings[t] = b
	}
}

// parseProtoTag разбирает тег вида "bytes,1,opt,name=order_id,proto3".
func parseProtoTag(tag string) (protoreflect.FieldNumber, string, bool) {
	parts := strings.Split(tag, ",")
	if len(parts) < 4 {
		return 0, "", false
	}
	number, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", false
	}
	for _, part := range parts[2:] {
		if name, ok := strings.CutPrefix(part, "name="); ok {
			return protoreflect.FieldNumber(number), name, true
		}
	}
	return 0, "", false
}

func buildFileDescriptorProto() (*descriptorpb.FileDescriptorProto, error) {
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(protoFileName),
		Package: proto.String(protoPackage),
		Syntax:  proto.String("proto3"),
		Options: &descriptorpb.FileOptions{GoPackage: proto.String(goPackage)},
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: proto.String("OrderStatus"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: proto.String("ORDER_STATUS_OPEN"), Number: proto.Int32(int32(OrderStatusOpen))},
				{Name: proto.String("ORDER_STATUS_IN_PROGRESS"), Number: proto.Int32(int32(OrderStatusInProgress))},
				{Name: proto.String("ORDER_STATUS_COMPLETED"), Number: proto.Int32(int32(OrderStatusCompleted))},
			},
		}},
	}

	for _, m := range messageTypes {
		t := reflect.TypeOf(m).Elem()
		msg := &descriptorpb.DescriptorProto{Name: proto.String(t.Name())}
		for i := range t.NumField() {
			sf := t.Field(i)
			number, name, ok := parseProtoTag(sf.Tag.Get("protobuf"))
			if !ok {
				return nil, fmt.Errorf("omsv1: %s.%s has no protobuf tag", t.Name(), sf.Name)
			}
			field := &descriptorpb.FieldDescriptorProto{
				Name:   proto.String(name),
				Number: proto.Int32(int32(number)),
				Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			}
			if err := setFieldType(field, sf.Type); err != nil {
				return nil, fmt.Errorf("omsv1: %s.%s: %w", t.Name(), sf.Name, err)
			}
			msg.Field = append(msg.Field, field)
		}
		file.MessageType = append(file.MessageType, msg)
	}

	service := &descriptorpb.ServiceDescriptorProto{Name: proto.String("OrderService")}
	for _, m := range OrderService_ServiceDesc.Methods {
		service.Method = append(service.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.MethodName),
			InputType:  proto.String("." + protoPackage + "." + m.MethodName + "Request"),
			OutputType: proto.String("." + protoPackage + "." + m.MethodName + "Response"),
		})
	}
	file.Service = []*descriptorpb.ServiceDescriptorProto{service}
	return file, nil
}

func setFieldType(field *descriptorpb.FieldDescriptorProto, t reflect.Type) error {
	switch {
	case t == orderStatusType:
		field.Type = descriptorpb.FieldDescriptorProto_TYPE_ENUM.Enum()
		field.TypeName = proto.String("." + protoPackage + ".OrderStatus")
	case t.Kind() == reflect.String:
		field.Type = descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum()
	case t.Kind() == reflect.Int64:
		field.Type = descriptorpb.FieldDescriptorProto_TYPE_INT64.Enum()
	case t.Kind() == reflect.Int32:
		field.Type = descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum()
	case t.Kind() == reflect.Bool:
		field.Type = descriptorpb.FieldDescriptorProto_TYPE_BOOL.Enum()
	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
		field.Type = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
		field.TypeName = proto.String("." + protoPackage + "." + t.Elem().Name())
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Pointer && t.Elem().Elem().Kind() == reflect.Struct:
		field.Type = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
		field.TypeName = proto.String("." + protoPackage + "." + t.Elem().Elem().Name())
		field.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	default:
		return fmt.Errorf("unsupported field type %s", t)
	}
	return nil
}
