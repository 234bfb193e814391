package governance_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memlayer/pkg/governance"
	"github.com/papercomputeco/memlayer/pkg/memcube"
	"github.com/papercomputeco/memlayer/pkg/storage"
)

var _ = Describe("Governance", func() {
	var record *memcube.Record

	BeforeEach(func() {
		record = &memcube.Record{
			ID: "r1",
			Governance: memcube.Governance{
				ReadRoles:  []string{"analyst", "admin"},
				WriteRoles: []string{"admin"},
			},
		}
	})

	It("treats a bare context as an anonymous caller", func() {
		c := governance.FromContext(context.Background())
		Expect(c.ID).To(Equal("anonymous"))
		Expect(c.Roles).To(BeEmpty())
	})

	It("round trips the caller through the context", func() {
		ctx := governance.WithCaller(context.Background(), governance.Caller{ID: "agent-1", Roles: []string{"analyst"}})
		Expect(governance.FromContext(ctx).ID).To(Equal("agent-1"))
	})

	It("allows reads but denies writes for a read-only role", func() {
		ctx := governance.WithCaller(context.Background(), governance.Caller{ID: "agent-1", Roles: []string{"analyst"}})
		Expect(governance.CheckRead(ctx, record)).To(Succeed())
		Expect(governance.CanRead(ctx, record)).To(BeTrue())

		err := governance.CheckWrite(ctx, record)
		Expect(errors.Is(err, storage.ErrAccessDenied)).To(BeTrue())
		var denied storage.AccessDeniedError
		Expect(errors.As(err, &denied)).To(BeTrue())
		Expect(denied.Caller).To(Equal("agent-1"))
		Expect(denied.Action).To(Equal("write"))
		Expect(denied.Resource).To(Equal("r1"))
	})

	It("opens records with empty role lists to everyone", func() {
		record.Governance = memcube.Governance{}
		Expect(governance.CheckRead(context.Background(), record)).To(Succeed())
		Expect(governance.CheckWrite(context.Background(), record)).To(Succeed())
	})

	It("parses role headers", func() {
		Expect(governance.ParseRoles(" admin, ,analyst ")).To(Equal([]string{"admin", "analyst"}))
		Expect(governance.ParseRoles("")).To(BeNil())
	})
})

var _ = Describe("System callers", func() {
	It("pass every check", func() {
		record := &memcube.Record{ID: "r", Governance: memcube.Governance{ReadRoles: []string{"x"}, WriteRoles: []string{"x"}}}
		ctx := governance.System(context.Background(), "lifecycle")
		Expect(governance.FromContext(ctx).ID).To(Equal("lifecycle"))
		Expect(governance.CheckRead(ctx, record)).To(Succeed())
		Expect(governance.CheckWrite(ctx, record)).To(Succeed())
	})
})
