package container

import (
	"github.com/mfahub/container-backend/interfaces"
)

// GenericType is the type tag of the general purpose container.
const GenericType = "generic"

// Generic is a general purpose container that can hold any type and any
// number of tokens. It does not support the device registration protocol.
type Generic struct {
	*Base
}

func init() {
	Register(&Descriptor{
		Type:        GenericType,
		Prefix:      "CONT",
		Description: "General purpose container that can hold any type and any number of tokens.",
		SupportedTokenTypes: []string{
			"daypassword", "email", "hotp", "push", "sms", "spass", "totp",
		},
		Options:    map[string][]string{},
		StateTypes: defaultStateTypes(),
		New: func(record *interfaces.ContainerRecord, deps Deps) TokenContainer {
			return &Generic{Base: NewBase(record, deps, mustDescriptor(GenericType))}
		},
	})
}

// mustDescriptor resolves a registered descriptor at construction time.
func mustDescriptor(containerType string) *Descriptor {
	desc, err := DescriptorFor(containerType)
	if err != nil {
		panic(err)
	}
	return desc
}
