package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const classMagic = 0xCAFEBABE

// reader wraps an io.Reader with big-endian helpers and a sticky error,
// so a parse step can read several items and check the error once.
type reader struct {
	r   io.Reader
	err error
	buf [8]byte
}

func (r *reader) read(n int) []byte {
	if r.err != nil {
		return r.buf[:n]
	}
	if _, err := io.ReadFull(r.r, r.buf[:n]); err != nil {
		r.err = err
	}
	return r.buf[:n]
}

func (r *reader) u1() uint8  { return r.read(1)[0] }
func (r *reader) u2() uint16 { return binary.BigEndian.Uint16(r.read(2)) }
func (r *reader) u4() uint32 { return binary.BigEndian.Uint32(r.read(4)) }
func (r *reader) u8() uint64 { return binary.BigEndian.Uint64(r.read(8)) }

func (r *reader) bytes(n uint32) []byte {
	data := make([]byte, n)
	if r.err != nil {
		return data
	}
	if _, err := io.ReadFull(r.r, data); err != nil {
		r.err = err
	}
	return data
}

// ParseFile opens and parses a .class file from the given path.
func ParseFile(path string) (*ClassFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// ParseBytes parses an in-memory .class file.
func ParseBytes(data []byte) (*ClassFile, error) {
	return Parse(bytes.NewReader(data))
}

// Parse reads a .class file from the given reader and returns a ClassFile.
func Parse(in io.Reader) (*ClassFile, error) {
	r := &reader{r: in}
	cf := &ClassFile{}

	magic := r.u4()
	if r.err != nil {
		return nil, fmt.Errorf("reading magic number: %w", r.err)
	}
	if magic != classMagic {
		return nil, fmt.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}

	cf.MinorVersion = r.u2()
	cf.MajorVersion = r.u2()
	cpCount := r.u2()
	if r.err != nil {
		return nil, fmt.Errorf("reading header: %w", r.err)
	}

	pool, err := parseConstantPool(r, cpCount)
	if err != nil {
		return nil, fmt.Errorf("parsing constant pool: %w", err)
	}
	cf.ConstantPool = pool

	cf.AccessFlags = r.u2()
	cf.ThisClass = r.u2()
	cf.SuperClass = r.u2()
	interfacesCount := r.u2()
	cf.Interfaces = make([]uint16, interfacesCount)
	for i := range cf.Interfaces {
		cf.Interfaces[i] = r.u2()
	}
	if r.err != nil {
		return nil, fmt.Errorf("reading class header: %w", r.err)
	}

	if cf.Fields, err = parseFields(r, pool); err != nil {
		return nil, fmt.Errorf("parsing fields: %w", err)
	}
	if cf.Methods, err = parseMethods(r, pool); err != nil {
		return nil, fmt.Errorf("parsing methods: %w", err)
	}

	attrs, err := parseAttributeInfos(r, pool)
	if err != nil {
		return nil, fmt.Errorf("parsing class attributes: %w", err)
	}
	for _, attr := range attrs {
		if attr.Name == "SourceFile" && len(attr.Data) == 2 {
			cf.SourceFile, _ = GetUtf8(pool, binary.BigEndian.Uint16(attr.Data))
		}
	}

	return cf, nil
}

// memberHeader is the common prefix of field_info and method_info.
type memberHeader struct {
	accessFlags uint16
	name        string
	descriptor  string
	attrs       []AttributeInfo
}

func parseMember(r *reader, pool []ConstantPoolEntry) (memberHeader, error) {
	var h memberHeader
	h.accessFlags = r.u2()
	nameIndex := r.u2()
	descIndex := r.u2()
	if r.err != nil {
		return h, r.err
	}

	var err error
	if h.name, err = GetUtf8(pool, nameIndex); err != nil {
		return h, fmt.Errorf("resolving name: %w", err)
	}
	if h.descriptor, err = GetUtf8(pool, descIndex); err != nil {
		return h, fmt.Errorf("resolving descriptor: %w", err)
	}
	if h.attrs, err = parseAttributeInfos(r, pool); err != nil {
		return h, fmt.Errorf("parsing attributes of %s: %w", h.name, err)
	}
	return h, nil
}

func parseFields(r *reader, pool []ConstantPoolEntry) ([]FieldInfo, error) {
	count := r.u2()
	if r.err != nil {
		return nil, r.err
	}
	fields := make([]FieldInfo, count)
	for i := range fields {
		h, err := parseMember(r, pool)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		fields[i] = FieldInfo{
			AccessFlags: h.accessFlags,
			Name:        h.name,
			Descriptor:  h.descriptor,
			Attributes:  h.attrs,
		}
		for _, attr := range h.attrs {
			if attr.Name == "ConstantValue" && len(attr.Data) == 2 {
				fields[i].ConstantValue = binary.BigEndian.Uint16(attr.Data)
			}
		}
	}
	return fields, nil
}

func parseMethods(r *reader, pool []ConstantPoolEntry) ([]MethodInfo, error) {
	count := r.u2()
	if r.err != nil {
		return nil, r.err
	}
	methods := make([]MethodInfo, count)
	for i := range methods {
		h, err := parseMember(r, pool)
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		m := MethodInfo{
			AccessFlags: h.accessFlags,
			Name:        h.name,
			Descriptor:  h.descriptor,
			Attributes:  h.attrs,
		}
		for _, attr := range h.attrs {
			if attr.Name != "Code" {
				continue
			}
			code, err := parseCodeAttribute(attr.Data)
			if err != nil {
				return nil, fmt.Errorf("parsing Code attribute for method %s: %w", h.name, err)
			}
			m.Code = code
			break
		}
		methods[i] = m
	}
	return methods, nil
}

func parseAttributeInfos(r *reader, pool []ConstantPoolEntry) ([]AttributeInfo, error) {
	count := r.u2()
	if r.err != nil {
		return nil, r.err
	}
	attrs := make([]AttributeInfo, count)
	for i := range attrs {
		nameIndex := r.u2()
		length := r.u4()
		data := r.bytes(length)
		if r.err != nil {
			return nil, fmt.Errorf("reading attribute %d: %w", i, r.err)
		}
		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving attribute %d name: %w", i, err)
		}
		attrs[i] = AttributeInfo{Name: name, Data: data}
	}
	return attrs, nil
}

func parseCodeAttribute(data []byte) (*CodeAttribute, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("Code attribute too short: %d bytes", len(data))
	}

	maxStack := binary.BigEndian.Uint16(data[0:2])
	maxLocals := binary.BigEndian.Uint16(data[2:4])
	codeLength := binary.BigEndian.Uint32(data[4:8])

	if uint64(len(data)) < 8+uint64(codeLength) {
		return nil, fmt.Errorf("Code attribute data too short for code_length %d", codeLength)
	}

	code := make([]byte, codeLength)
	copy(code, data[8:8+codeLength])

	offset := 8 + int(codeLength)
	var handlers []ExceptionHandler
	if offset+2 <= len(data) {
		exTableLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
		offset += 2
		if offset+8*exTableLen > len(data) {
			return nil, fmt.Errorf("exception table truncated: %d entries", exTableLen)
		}
		handlers = make([]ExceptionHandler, exTableLen)
		for i := range handlers {
			handlers[i] = ExceptionHandler{
				StartPC:   binary.BigEndian.Uint16(data[offset : offset+2]),
				EndPC:     binary.BigEndian.Uint16(data[offset+2 : offset+4]),
				HandlerPC: binary.BigEndian.Uint16(data[offset+4 : offset+6]),
				CatchType: binary.BigEndian.Uint16(data[offset+6 : offset+8]),
			}
			offset += 8
		}
	}

	return &CodeAttribute{
		MaxStack:          maxStack,
		MaxLocals:         maxLocals,
		Code:              code,
		ExceptionHandlers: handlers,
	}, nil
}

// ClassName returns the internal name of this class.
func (cf *ClassFile) ClassName() (string, error) {
	return GetClassName(cf.ConstantPool, cf.ThisClass)
}

// FindMethod finds a method by name and descriptor.
func (cf *ClassFile) FindMethod(name, descriptor string) *MethodInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name && cf.Methods[i].Descriptor == descriptor {
			return &cf.Methods[i]
		}
	}
	return nil
}

// FindMethodsByName returns every overload with the given name.
func (cf *ClassFile) FindMethodsByName(name string) []*MethodInfo {
	var out []*MethodInfo
	for i := range cf.Methods {
		if cf.Methods[i].Name == name {
			out = append(out, &cf.Methods[i])
		}
	}
	return out
}
