package memory

import "github.com/callhub/signalhub/internal/store"

// memStore wires every in-memory sub-store into store.Store.
type memStore struct {
	identities    *identityStore
	contacts      *contactStore
	policies      *policyStore
	usage         *usageStore
	activeCalls   *activeCallStore
	conversations *conversationStore
	tokens        *tokenStore
	passes        *passStore
}

// New builds the canonical in-memory Store (SPEC_FULL.md Open Question 1).
func New() store.Store {
	return &memStore{
		identities:    newIdentityStore(),
		contacts:      newContactStore(),
		policies:      newPolicyStore(),
		usage:         newUsageStore(),
		activeCalls:   newActiveCallStore(),
		conversations: newConversationStore(),
		tokens:        newTokenStore(),
		passes:        newPassStore(),
	}
}

func (m *memStore) Identities() store.IdentityStore { return m.identities }
func (m *memStore) Contacts() store.ContactStore { return m.contacts }
func (m *memStore) Policies() store.PolicyStore { return m.policies }
func (m *memStore) Usage() store.UsageStore { return m.usage }
func (m *memStore) ActiveCalls() store.ActiveCallStore { return m.activeCalls }
func (m *memStore) Conversations() store.ConversationStore { return m.conversations }
func (m *memStore) Tokens() store.TokenStore { return m.tokens }
func (m *memStore) Passes() store.PassStore { return m.passes }
