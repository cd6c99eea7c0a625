package rbac

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Permission categories used by the built-in vocabulary.
const (
	CategoryTickets        = "tickets"
	CategoryCustomers      = "customers"
	CategoryMessages       = "messages"
	CategoryCalls          = "calls"
	CategoryAI             = "ai"
	CategoryReports        = "reports"
	CategoryBilling        = "billing"
	CategoryAdministration = "administration"
)

// Vocabulary is the versioned set of permission codes the platform knows
// about. Creating a role or override with a code outside the vocabulary is
// rejected. The vocabulary itself never changes at runtime except by an
// explicit reload of the vocabulary file.
type Vocabulary struct {
	Version string
	perms   map[string]Permission
}

// NewVocabulary builds a vocabulary from a list of permissions.
func NewVocabulary(version string, perms []Permission) *Vocabulary {
	v := &Vocabulary{
		Version: version,
		perms:   make(map[string]Permission, len(perms)),
	}
	for _, p := range perms {
		v.perms[p.Code] = p
	}
	return v
}

// DefaultVocabulary returns the built-in support/CRM permission vocabulary.
func DefaultVocabulary() *Vocabulary {
	return NewVocabulary("builtin-1", []Permission{
		{Code: "tickets.read", Category: CategoryTickets},
		{Code: "tickets.create", Category: CategoryTickets},
		{Code: "tickets.update", Category: CategoryTickets},
		{Code: "tickets.assign", Category: CategoryTickets},
		{Code: "tickets.close", Category: CategoryTickets},
		{Code: "tickets.delete", Category: CategoryTickets},
		{Code: "customers.read", Category: CategoryCustomers},
		{Code: "customers.create", Category: CategoryCustomers},
		{Code: "customers.update", Category: CategoryCustomers},
		{Code: "customers.delete", Category: CategoryCustomers},
		{Code: "messages.read", Category: CategoryMessages},
		{Code: "messages.send", Category: CategoryMessages},
		{Code: "messages.delete", Category: CategoryMessages},
		{Code: "calls.read", Category: CategoryCalls},
		{Code: "calls.place", Category: CategoryCalls},
		{Code: "ai.use", Category: CategoryAI},
		{Code: "ai.configure", Category: CategoryAI},
		{Code: "reports.view", Category: CategoryReports},
		{Code: "reports.export", Category: CategoryReports},
		{Code: "billing.manage", Category: CategoryBilling},
		{Code: "roles.manage", Category: CategoryAdministration},
		{Code: "teams.manage", Category: CategoryAdministration},
		{Code: "overrides.manage", Category: CategoryAdministration},
		{Code: "settings.manage", Category: CategoryAdministration},
	})
}

// Has reports whether code is part of the vocabulary.
func (v *Vocabulary) Has(code string) bool {
	_, ok := v.perms[code]
	return ok
}

// Lookup returns the permission for code if it exists.
func (v *Vocabulary) Lookup(code string) (Permission, bool) {
	p, ok := v.perms[code]
	return p, ok
}

// List returns all permissions sorted by code.
func (v *Vocabulary) List() []Permission {
	perms := make([]Permission, 0, len(v.perms))
	for _, p := range v.perms {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
	return perms
}

// InvalidCodes returns, in input order, every code that is not part of the
// vocabulary. An empty result means all codes are valid.
func (v *Vocabulary) InvalidCodes(codes []string) []string {
	var invalid []string
	for _, c := range codes {
		if !v.Has(c) {
			invalid = append(invalid, c)
		}
	}
	return invalid
}

// vocabularyFile is the on-disk YAML shape of a vocabulary extension.
type vocabularyFile struct {
	Version     string `yaml:"version"`
	Permissions []struct {
		Code     string `yaml:"code"`
		Category string `yaml:"category"`
	} `yaml:"permissions"`
}

// LoadVocabularyFile reads a YAML vocabulary file and merges it over the
// built-in defaults. File entries with a code already present override the
// built-in category; new codes extend the vocabulary.
func LoadVocabularyFile(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary file: %w", err)
	}

	var file vocabularyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary file: %w", err)
	}
	if file.Version == "" {
		return nil, fmt.Errorf("vocabulary file %s is missing a version", path)
	}

	merged := DefaultVocabulary()
	merged.Version = file.Version
	for _, p := range file.Permissions {
		if p.Code == "" {
			return nil, fmt.Errorf("vocabulary file %s contains a permission without a code", path)
		}
		merged.perms[p.Code] = Permission{Code: p.Code, Category: p.Category}
	}

	return merged, nil
}

// SystemDefaultRoles returns the global roles every fresh deployment ships
// with. They carry a nil tenant ID so they apply to users of any tenant.
func SystemDefaultRoles() []Role {
	return []Role{
		{
			Name:            "Admin",
			Description:     "Full access to every capability",
			IsSystemDefault: true,
			PermissionCodes: func() []string {
				codes := make([]string, 0)
				for _, p := range DefaultVocabulary().List() {
					codes = append(codes, p.Code)
				}
				return codes
			}(),
		},
		{
			Name:            "Agent",
			Description:     "Day-to-day support work on tickets, customers and conversations",
			IsSystemDefault: true,
			PermissionCodes: []string{
				"tickets.read", "tickets.create", "tickets.update",
				"tickets.assign", "tickets.close",
				"customers.read", "customers.update",
				"messages.read", "messages.send",
				"calls.read", "calls.place",
				"ai.use",
			},
		},
		{
			Name:            "Viewer",
			Description:     "Read-only access to tickets, customers and reports",
			IsSystemDefault: true,
			PermissionCodes: []string{
				"tickets.read", "customers.read", "messages.read", "reports.view",
			},
		},
	}
}
