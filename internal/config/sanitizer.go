package config

import "encoding/json"

const redactionValue = "***REDACTED***"

// Sanitize returns a deep copy of list with every credential-bearing field
// redacted, for safe logging of the resolved target configuration --
// plaintext credentials are never persisted in the target list, and this
// guarantees they are never logged either.
func Sanitize(list TargetList) TargetList {
	sanitized := deepCopy(list)
	for i := range sanitized.Targets {
		if sanitized.Targets[i].Username != "" {
			sanitized.Targets[i].Username = redactionValue
		}
		if sanitized.Targets[i].CredentialRef != "" {
			sanitized.Targets[i].CredentialRef = redactionValue
		}
	}
	return sanitized
}

func deepCopy(list TargetList) TargetList {
	encoded, err := json.Marshal(list)
	if err != nil {
		return list
	}
	var copied TargetList
	if err := json.Unmarshal(encoded, &copied); err != nil {
		return list
	}
	return copied
}
