package registry

// Default builds the registry of the twelve supported record types
func Default() *Registry {
	r, err := New(DefaultDescriptors()...)
	if err != nil {
		panic("invalid built-in record types: " + err.Error())
	}
	return r
}

// DefaultDescriptors returns the built-in record type descriptors
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		mustDescriptor("Users", "users", DirectExtract, map[string]string{
			FieldOrgID:  "homeOrgId",
			FieldUserID: "id",
		}),
		mustDescriptor("Organization", "organizations", DirectExtract, map[string]string{
			FieldOrgID: "id",
		}),
		// Agents can be bots; only human-backed agents map to a user
		mustDescriptor("Agent", "agents", ConditionalExtract, map[string]string{
			FieldOrgID:  "orgId",
			FieldUserID: "userId",
		}, WithCondition("agentType", "HUMAN")),
		mustDescriptor("Queue", "queues", DirectExtract, map[string]string{
			FieldOrgID: "orgId",
		}),
		mustDescriptor("QueueMember", "queue_members", DatabaseLookup, map[string]string{
			FieldLookupKey: "queueId",
			FieldUserID:    "userId",
		}, WithLookup(Lookup{Table: "queues", KeyColumn: "id", OrgColumn: "orgId"})),
		mustDescriptor("Group", "groups", DirectExtract, map[string]string{
			FieldOrgID: "orgId",
		}),
		mustDescriptor("GroupMember", "group_members", DatabaseLookup, map[string]string{
			FieldLookupKey: "groupId",
			FieldUserID:    "userId",
		}, WithLookup(Lookup{Table: "groups", KeyColumn: "id", OrgColumn: "orgId"})),
		mustDescriptor("Team", "teams", DirectExtract, map[string]string{
			FieldOrgID: "orgId",
		}),
		mustDescriptor("TeamMember", "team_members", DatabaseLookup, map[string]string{
			FieldLookupKey: "teamId",
			FieldUserID:    "userId",
		}, WithLookup(Lookup{Table: "teams", KeyColumn: "id", OrgColumn: "orgId"})),
		mustDescriptor("UserRole", "user_roles", DirectExtract, map[string]string{
			FieldOrgID:  "orgId",
			FieldUserID: "userId",
		}),
		mustDescriptor("Skill", "skills", DirectExtract, map[string]string{
			FieldOrgID: "orgId",
		}),
		mustDescriptor("PhoneNumber", "phone_numbers", ConditionalExtract, map[string]string{
			FieldOrgID:  "orgId",
			FieldUserID: "assigneeId",
		}, WithCondition("assigneeType", "USER")),
	}
}

func mustDescriptor(typeName, table string, strategy Strategy, fields map[string]string, opts ...Option) Descriptor {
	d, err := NewDescriptor(typeName, table, strategy, fields, opts...)
	if err != nil {
		panic(err)
	}
	return d
}
