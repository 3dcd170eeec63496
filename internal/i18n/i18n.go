// internal/i18n/i18n.go
package i18n

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type I18n struct {
	mu           sync.RWMutex
	translations map[string]map[string]string
	defaultLang  string
}

var instance *I18n
var once sync.Once

// English defaults compiled in so the service and its tests work
// without the locales directory on disk.
var builtinEN = map[string]string{
	KeyAuthRequired:        "Authentication required",
	KeyAuthInvalidToken:    "Invalid authentication token",
	KeyAuthTokenExpired:    "Authentication token expired",
	KeyOperatorRequired:    "Operator access required",
	KeyAuthRegisterSuccess: "Account registered",
	KeyAuthLoginSuccess:    "Login successful",
	KeyValidationInvalid:   "Invalid %s",
	KeyWorkspaceCreated:    "Workspace created",
	KeyWorkspaceUpdated:    "Workspace updated",
	KeyMembersUpdated:      "Workspace members updated",
	KeyGrantCreated:        "Grant created",
	KeyGrantUpdated:        "Grant updated",
	KeyApplicationCreated:  "Application submitted",
	KeyApplicationUpdated:  "Application updated",
	KeyMilestoneUpdated:    "Milestone updated",
	KeyReviewersAssigned:   "Reviewers assigned",
	KeyReviewSubmitted:     "Review submitted",
	KeyRubricsSet:          "Rubrics set",
	KeyAutoAssignUpdated:   "Auto assignment updated",
	KeyPaymentMarked:       "Review payment marked",
	KeyPaymentFulfilled:    "Review payment fulfilled",
	KeyWalletMigrated:      "Wallet migrated",
	KeyMetadataUploaded:    "Metadata uploaded",
	KeyPauseUpdated:        "Ledger pause flag updated",
}

func Initialize(localesPath string) error {
	var err error
	once.Do(func() {
		instance = &I18n{
			translations: map[string]map[string]string{"en": builtinEN},
			defaultLang:  "en",
		}
		if localesPath != "" {
			err = instance.LoadTranslations(localesPath)
		}
	})
	return err
}

func (i *I18n) LoadTranslations(localesPath string) error {
	entries, err := os.ReadDir(localesPath)
	if err != nil {
		// Built-in defaults remain in effect.
		return nil
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		lang := strings.TrimSuffix(entry.Name(), ".json")

		data, err := os.ReadFile(filepath.Join(localesPath, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read locale file %s: %w", entry.Name(), err)
		}

		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return fmt.Errorf("failed to unmarshal locale file %s: %w", entry.Name(), err)
		}

		i.mu.Lock()
		merged := i.translations[lang]
		if merged == nil {
			merged = make(map[string]string, len(translations))
		}
		for k, v := range translations {
			merged[k] = v
		}
		i.translations[lang] = merged
		i.mu.Unlock()
	}

	return nil
}

// T translates a key for the given language, falling back to the
// default language and finally to the key itself.
func T(lang, key string, args ...interface{}) string {
	if instance == nil {
		Initialize("")
	}

	instance.mu.RLock()
	defer instance.mu.RUnlock()

	msg := ""
	if m, ok := instance.translations[lang]; ok {
		msg = m[key]
	}
	if msg == "" {
		if m, ok := instance.translations[instance.defaultLang]; ok {
			msg = m[key]
		}
	}
	if msg == "" {
		msg = key
	}

	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}
