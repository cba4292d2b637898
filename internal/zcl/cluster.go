package zcl

// Access flags
const (
	AccessRead   uint8 = 0x01
	AccessWrite  uint8 = 0x02
	AccessReport uint8 = 0x04
)

// NoManufacturer marks a frame without a manufacturer code.
const NoManufacturer uint16 = 0x0000

// AttributeDef defines a ZCL attribute.
type AttributeDef struct {
	ID     uint16 `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Type   uint8  `json:"type" yaml:"type"`
	Access uint8  `json:"access" yaml:"access"` // bitmask: 1=read, 2=write, 4=reportable

	// ManufacturerSpecific attributes are only addressable with the cluster's
	// manufacturer code set on the frame.
	ManufacturerSpecific bool `json:"manufacturer_specific,omitempty" yaml:"manufacturer_specific,omitempty"`
}

// IsReadable returns true if the attribute can be read.
func (a *AttributeDef) IsReadable() bool {
	return a.Access&AccessRead != 0
}

// IsWritable returns true if the attribute can be written.
func (a *AttributeDef) IsWritable() bool {
	return a.Access&AccessWrite != 0
}

// IsReportable returns true if the attribute supports reporting.
func (a *AttributeDef) IsReportable() bool {
	return a.Access&AccessReport != 0
}

// CommandDirection indicates the direction of a cluster command.
type CommandDirection string

const (
	DirectionToServer CommandDirection = "toServer"
	DirectionToClient CommandDirection = "toClient"
)

// ArgDef is one field of a command payload, in wire order.
type ArgDef struct {
	Name string `json:"name" yaml:"name"`
	Type uint8  `json:"type" yaml:"type"`
}

// CommandDef defines a cluster-specific command.
type CommandDef struct {
	ID        uint8            `json:"id" yaml:"id"`
	Name      string           `json:"name" yaml:"name"`
	Direction CommandDirection `json:"direction" yaml:"direction"`
	Args      []ArgDef         `json:"args,omitempty" yaml:"args,omitempty"`
}

// ArgIndex returns the positional index of the named argument, or -1.
func (c *CommandDef) ArgIndex(name string) int {
	for i, a := range c.Args {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// ClusterDef defines a ZCL cluster with its attributes and commands.
type ClusterDef struct {
	ID   uint16 `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`

	// ManufacturerCode, when set, is forced onto every frame sent to the cluster.
	ManufacturerCode uint16         `json:"manufacturer_code,omitempty" yaml:"manufacturer_code,omitempty"`
	Attributes       []AttributeDef `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Commands         []CommandDef   `json:"commands,omitempty" yaml:"commands,omitempty"`
}

// FindAttribute looks up an attribute by ID.
func (c *ClusterDef) FindAttribute(id uint16) *AttributeDef {
	for i := range c.Attributes {
		if c.Attributes[i].ID == id {
			return &c.Attributes[i]
		}
	}
	return nil
}

// FindAttributeByName looks up an attribute by its name.
func (c *ClusterDef) FindAttributeByName(name string) *AttributeDef {
	for i := range c.Attributes {
		if c.Attributes[i].Name == name {
			return &c.Attributes[i]
		}
	}
	return nil
}

// FindCommand looks up a command by ID and direction.
func (c *ClusterDef) FindCommand(id uint8, dir CommandDirection) *CommandDef {
	for i := range c.Commands {
		if c.Commands[i].ID == id && c.Commands[i].Direction == dir {
			return &c.Commands[i]
		}
	}
	return nil
}

// DeepCopy returns a deep copy of the cluster definition.
func (c *ClusterDef) DeepCopy() *ClusterDef {
	cp := *c
	if c.Attributes != nil {
		cp.Attributes = make([]AttributeDef, len(c.Attributes))
		copy(cp.Attributes, c.Attributes)
	}
	if c.Commands != nil {
		cp.Commands = make([]CommandDef, len(c.Commands))
		for i, cmd := range c.Commands {
			cp.Commands[i] = cmd
			if cmd.Args != nil {
				cp.Commands[i].Args = append([]ArgDef(nil), cmd.Args...)
			}
		}
	}
	return &cp
}

// Merge adds attributes and commands from another definition (for quirk file overlays).
func (c *ClusterDef) Merge(other *ClusterDef) {
	for _, attr := range other.Attributes {
		if c.FindAttribute(attr.ID) == nil {
			c.Attributes = append(c.Attributes, attr)
		}
	}
	for _, cmd := range other.Commands {
		if c.FindCommand(cmd.ID, cmd.Direction) == nil {
			c.Commands = append(c.Commands, cmd)
		}
	}
	if c.ManufacturerCode == NoManufacturer {
		c.ManufacturerCode = other.ManufacturerCode
	}
}
