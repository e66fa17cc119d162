package classfile

import (
	"fmt"
	"strings"
)

var primitiveByDescriptor = map[byte]string{
	'Z': "boolean",
	'B': "byte",
	'C': "char",
	'S': "short",
	'I': "int",
	'J': "long",
	'F': "float",
	'D': "double",
	'V': "void",
}

var descriptorByPrimitive = map[string]string{
	"boolean": "Z",
	"byte":    "B",
	"char":    "C",
	"short":   "S",
	"int":     "I",
	"long":    "J",
	"float":   "F",
	"double":  "D",
	"void":    "V",
}

// BinaryName converts an internal name (java/lang/String) to the binary
// name used by Class.getName (java.lang.String). Array names keep their
// descriptor shape: [Ljava/lang/String; becomes [Ljava.lang.String;.
func BinaryName(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}

// InternalName is the inverse of BinaryName.
func InternalName(binary string) string {
	return strings.ReplaceAll(binary, ".", "/")
}

// IsPrimitiveName reports whether name is a primitive type name (void included).
func IsPrimitiveName(name string) bool {
	_, ok := descriptorByPrimitive[name]
	return ok
}

// TypeDescriptor returns the field descriptor for a type name:
// int -> I, java.lang.String -> Ljava/lang/String;, [I -> [I.
func TypeDescriptor(name string) string {
	if d, ok := descriptorByPrimitive[name]; ok {
		return d
	}
	if strings.HasPrefix(name, "[") {
		return InternalName(name)
	}
	return "L" + InternalName(name) + ";"
}

// MethodDescriptor builds a method descriptor from parameter and return type names.
func MethodDescriptor(params []string, ret string) string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range params {
		b.WriteString(TypeDescriptor(p))
	}
	b.WriteByte(')')
	b.WriteString(TypeDescriptor(ret))
	return b.String()
}

// TypeName converts a single field descriptor to a type name.
func TypeName(descriptor string) (string, error) {
	name, n, err := nextType(descriptor, 0)
	if err != nil {
		return "", err
	}
	if n != len(descriptor) {
		return "", fmt.Errorf("trailing characters in field descriptor %q", descriptor)
	}
	return name, nil
}

// ParseMethodDescriptor splits a method descriptor into parameter and return type names.
func ParseMethodDescriptor(descriptor string) (params []string, ret string, err error) {
	if !strings.HasPrefix(descriptor, "(") {
		return nil, "", fmt.Errorf("invalid method descriptor: %s", descriptor)
	}
	i := 1
	for {
		if i >= len(descriptor) {
			return nil, "", fmt.Errorf("unterminated parameter list in %s", descriptor)
		}
		if descriptor[i] == ')' {
			i++
			break
		}
		name, next, err := nextType(descriptor, i)
		if err != nil {
			return nil, "", err
		}
		params = append(params, name)
		i = next
	}
	ret, next, err := nextType(descriptor, i)
	if err != nil {
		return nil, "", err
	}
	if next != len(descriptor) {
		return nil, "", fmt.Errorf("trailing characters in method descriptor %s", descriptor)
	}
	return params, ret, nil
}

// nextType decodes one type starting at descriptor[i] and returns its name and the next index.
func nextType(descriptor string, i int) (string, int, error) {
	if i >= len(descriptor) {
		return "", i, fmt.Errorf("truncated descriptor %s", descriptor)
	}
	c := descriptor[i]
	if name, ok := primitiveByDescriptor[c]; ok {
		return name, i + 1, nil
	}
	switch c {
	case 'L':
		end := strings.IndexByte(descriptor[i:], ';')
		if end < 0 {
			return "", i, fmt.Errorf("unterminated class type in %s", descriptor)
		}
		return BinaryName(descriptor[i+1 : i+end]), i + end + 1, nil
	case '[':
		start := i
		for i < len(descriptor) && descriptor[i] == '[' {
			i++
		}
		_, next, err := nextType(descriptor, i)
		if err != nil {
			return "", i, err
		}
		return BinaryName(descriptor[start:next]), next, nil
	default:
		return "", i, fmt.Errorf("invalid type descriptor char '%c' in %s", c, descriptor)
	}
}
