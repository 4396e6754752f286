package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqlguardian/auditor/internal/core"
	"github.com/sqlguardian/auditor/internal/identity"
)

func TestComposeKey_LowercasesAndStripsGlyphs(t *testing.T) {
	key := identity.ComposeKey(core.FindingLogin, "SQL01", "✓ DEFAULT ")
	assert.Equal(t, "login|sql01|default", key)
}

func TestComposeKey_PreservesEmptySegments(t *testing.T) {
	key := identity.ComposeKey(core.FindingSAAccount, "sql01", "")
	assert.Equal(t, "sa_account|sql01|", key)
}

func TestNormalizeKey_MatchesComposeKeyOutput(t *testing.T) {
	composed := identity.ComposeKey(core.FindingLogin, "SQL01", "AppUser")
	fromWorkbook := identity.NormalizeKey("LOGIN|sql01|AppUser")
	assert.Equal(t, composed, fromWorkbook)
}

func TestNewUUID_ProducesDistinctValues(t *testing.T) {
	a := identity.NewUUID()
	b := identity.NewUUID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
