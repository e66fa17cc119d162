package classfile

import (
	"fmt"
	"math"
)

// Constant pool tags
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// parseConstantPool reads constant_pool_count-1 entries.
// The returned slice is 1-indexed: index 0 is nil.
func parseConstantPool(r *reader, count uint16) ([]ConstantPoolEntry, error) {
	pool := make([]ConstantPoolEntry, count)

	for i := uint16(1); i < count; i++ {
		tag := r.u1()
		if r.err != nil {
			return nil, fmt.Errorf("reading tag at index %d: %w", i, r.err)
		}

		switch tag {
		case TagUtf8:
			length := r.u2()
			pool[i] = &ConstantUtf8{Value: decodeModifiedUTF8(r.bytes(uint32(length)))}
		case TagInteger:
			pool[i] = &ConstantInteger{Value: int32(r.u4())}
		case TagFloat:
			pool[i] = &ConstantFloat{Value: math.Float32frombits(r.u4())}
		case TagLong:
			pool[i] = &ConstantLong{Value: int64(r.u8())}
			i++ // long takes 2 slots
		case TagDouble:
			pool[i] = &ConstantDouble{Value: math.Float64frombits(r.u8())}
			i++ // double takes 2 slots
		case TagClass:
			pool[i] = &ConstantClass{NameIndex: r.u2()}
		case TagString:
			pool[i] = &ConstantString{StringIndex: r.u2()}
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			classIndex := r.u2()
			pool[i] = NewMemberref(tag, classIndex, r.u2())
		case TagNameAndType:
			nameIndex := r.u2()
			pool[i] = &ConstantNameAndType{NameIndex: nameIndex, DescriptorIndex: r.u2()}
		case TagMethodHandle:
			r.bytes(3)
			pool[i] = &constantPlaceholder{tag: tag}
		case TagMethodType, TagModule, TagPackage:
			r.bytes(2)
			pool[i] = &constantPlaceholder{tag: tag}
		case TagDynamic, TagInvokeDynamic:
			r.bytes(4)
			pool[i] = &constantPlaceholder{tag: tag}
		default:
			return nil, fmt.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}
		if r.err != nil {
			return nil, fmt.Errorf("reading entry %d (tag=%d): %w", i, tag, r.err)
		}
	}

	return pool, nil
}

// decodeModifiedUTF8 decodes the JVM's modified UTF-8. The encoded NUL
// (0xC0 0x80) and surrogate pairs are the only differences from standard UTF-8.
func decodeModifiedUTF8(b []byte) string {
	ascii := true
	for _, c := range b {
		if c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}

	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0 && i+1 < len(b):
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0 && i+2 < len(b):
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			units = append(units, 0xFFFD)
			i++
		}
	}
	return string(decodeUTF16(units))
}

func decodeUTF16(units []uint16) []rune {
	out := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		if u >= 0xD800 && u < 0xDC00 && i+1 < len(units) {
			if l := units[i+1]; l >= 0xDC00 && l < 0xE000 {
				out = append(out, (rune(u)-0xD800)<<10+(rune(l)-0xDC00)+0x10000)
				i++
				continue
			}
		}
		out = append(out, rune(u))
	}
	return out
}

// constantPlaceholder is used for constant pool entries we don't fully parse.
type constantPlaceholder struct {
	tag uint8
}

func (c *constantPlaceholder) Tag() uint8 { return c.tag }

func entryAt(pool []ConstantPoolEntry, index uint16) (ConstantPoolEntry, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return nil, fmt.Errorf("invalid constant pool index %d", index)
	}
	return pool[index], nil
}

// GetUtf8 returns the Utf8 string at the given constant pool index.
func GetUtf8(pool []ConstantPoolEntry, index uint16) (string, error) {
	entry, err := entryAt(pool, index)
	if err != nil {
		return "", err
	}
	utf8, ok := entry.(*ConstantUtf8)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Utf8 (tag=%d)", index, entry.Tag())
	}
	return utf8.Value, nil
}

// GetClassName returns the internal class name referenced by a CONSTANT_Class entry.
func GetClassName(pool []ConstantPoolEntry, classIndex uint16) (string, error) {
	entry, err := entryAt(pool, classIndex)
	if err != nil {
		return "", err
	}
	class, ok := entry.(*ConstantClass)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Class", classIndex)
	}
	return GetUtf8(pool, class.NameIndex)
}

// GetString returns the value of a CONSTANT_String entry.
func GetString(pool []ConstantPoolEntry, index uint16) (string, error) {
	entry, err := entryAt(pool, index)
	if err != nil {
		return "", err
	}
	s, ok := entry.(*ConstantString)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not String", index)
	}
	return GetUtf8(pool, s.StringIndex)
}

// MemberRef holds a resolved field or method reference.
type MemberRef struct {
	ClassName  string
	Name       string
	Descriptor string
}

// ResolveMemberref resolves a Fieldref, Methodref or InterfaceMethodref entry.
func ResolveMemberref(pool []ConstantPoolEntry, index uint16) (*MemberRef, error) {
	entry, err := entryAt(pool, index)
	if err != nil {
		return nil, err
	}
	ref, ok := entry.(*ConstantMemberref)
	if !ok {
		return nil, fmt.Errorf("constant pool index %d is not a member reference (tag=%d)", index, entry.Tag())
	}

	className, err := GetClassName(pool, ref.ClassIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving member class: %w", err)
	}

	natEntry, err := entryAt(pool, ref.NameAndTypeIndex)
	if err != nil {
		return nil, err
	}
	nat, ok := natEntry.(*ConstantNameAndType)
	if !ok {
		return nil, fmt.Errorf("constant pool index %d is not NameAndType", ref.NameAndTypeIndex)
	}

	name, err := GetUtf8(pool, nat.NameIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving member name: %w", err)
	}
	descriptor, err := GetUtf8(pool, nat.DescriptorIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving member descriptor: %w", err)
	}

	return &MemberRef{ClassName: className, Name: name, Descriptor: descriptor}, nil
}
