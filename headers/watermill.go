package headers

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill converts Watermill metadata into a Dictionary, skipping the
// keys for which skip returns true.
func FromWatermill(md message.Metadata, skip func(key string) bool) Dictionary {
	values := make(map[string]any, len(md))
	for k, v := range md {
		if skip != nil && skip(k) {
			continue
		}
		values[k] = v
	}
	return Dictionary{values: values}
}

// ToWatermill renders the dictionary as Watermill metadata. The result never
// aliases the dictionary.
func ToWatermill(d Dictionary) message.Metadata {
	if d.Len() == 0 {
		return message.Metadata{}
	}
	return message.Metadata(d.Strings())
}
