package classfile

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Classes are exchanged in canonical CBOR so the same class always encodes
// to the same bytes, whichever source stored it.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("classfile: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a Class to CBOR bytes.
func Marshal(c *Class) ([]byte, error) {
	return cborEncMode.Marshal(c)
}

// Unmarshal deserializes a Class from CBOR bytes and validates it.
func Unmarshal(data []byte) (*Class, error) {
	var c Class
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("classfile: unmarshal class: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the structural rules the VM relies on: well-formed
// descriptors, known opcodes, and branch and handler targets inside the
// method body.
func (c *Class) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("classfile: class has no name")
	}
	for i := range c.Fields {
		f := &c.Fields[i]
		if !ValidFieldDescriptor(f.Desc) {
			return fmt.Errorf("classfile: %s.%s: malformed descriptor %q", c.Name, f.Name, f.Desc)
		}
	}
	for i := range c.Methods {
		m := &c.Methods[i]
		if _, err := ParseMethodDescriptor(m.Desc); err != nil {
			return err
		}
		n := len(m.Code)
		for pc, insn := range m.Code {
			if !insn.Op.Known() {
				return fmt.Errorf("classfile: %s.%s%s: unknown opcode %s at %d", c.Name, m.Name, m.Desc, insn.Op, pc)
			}
			if insn.Op.IsBranch() && (insn.Target < 0 || insn.Target >= n) {
				return fmt.Errorf("classfile: %s.%s%s: branch target %d out of range at %d", c.Name, m.Name, m.Desc, insn.Target, pc)
			}
		}
		for _, tc := range m.TryCatch {
			if tc.Start < 0 || tc.End > n || tc.Start >= tc.End || tc.Handler < 0 || tc.Handler >= n {
				return fmt.Errorf("classfile: %s.%s%s: bad exception table entry %+v", c.Name, m.Name, m.Desc, tc)
			}
		}
	}
	return nil
}
