package patchwork_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/toejough/patchwork"
	"github.com/toejough/patchwork/match"
)

// Exported targets used across the acceptance tests. Each test patches under
// its own context, so sharing the slots is safe.
var (
	addFunc = patchwork.Export("accept.calc", "Add", func(_ context.Context, x int) int { return x + 1 })
	addSel  = patchwork.SelectorFor("accept.calc", "Add", 1)

	greetFunc = patchwork.Export("accept.greet", "Hello", func(_ context.Context, name string) string {
		return "hello " + name
	})
	greetSel = patchwork.SelectorFor("accept.greet", "Hello", 1)
)

func TestPatchIsLocalToTheCallingContext(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	patcher := patchwork.ContextFor(t)
	bystander := patchwork.Default().NewContext()
	defer patchwork.Cleanup(bystander)

	err := patchwork.Patch(patcher, addSel, patchwork.TierLocal,
		func(_ context.Context, x int) int { return x - 1 }, false)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(addFunc(patchwork.Attach(context.Background(), patcher), 1)).To(Equal(0))
	g.Expect(addFunc(patchwork.Attach(context.Background(), bystander), 1)).To(Equal(2))
}

func TestSharedOverridesNeedAnAllowance(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	owner := patchwork.ContextFor(t)
	outsider := patchwork.Default().NewContext()
	defer patchwork.Cleanup(outsider)

	err := patchwork.Patch(owner, greetSel, patchwork.TierShared,
		func(_ context.Context, name string) string { return "yo " + name }, false)
	g.Expect(err).NotTo(HaveOccurred())

	// Before the allowance the outsider sees the original.
	g.Expect(greetFunc(patchwork.Attach(context.Background(), outsider), "ada")).To(Equal("hello ada"))

	g.Expect(patchwork.Allow(owner, outsider, false)).To(Succeed())

	g.Expect(greetFunc(patchwork.Attach(context.Background(), outsider), "ada")).To(Equal("yo ada"))

	ownerID, ok := patchwork.OwnerOf(outsider)
	g.Expect(ok).To(BeTrue())
	g.Expect(ownerID).To(Equal(owner.ID()))
	g.Expect(patchwork.AllowancesOf(owner)).To(ContainElement(outsider.ID()))
}

func TestCalledMatchesArgumentsWithMatchers(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	caller := patchwork.ContextFor(t)
	ctx := patchwork.Attach(context.Background(), caller)

	err := patchwork.Fake(caller, addSel, patchwork.TierLocal,
		func(_ context.Context, x int) int { return x * 2 }, false)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(addFunc(ctx, 3)).To(Equal(6))
	g.Expect(addFunc(ctx, 8)).To(Equal(16))

	called, err := patchwork.Called(patchwork.Query{
		Selector:  addSel,
		Caller:    caller.ID(),
		Args:      []any{match.BeAny},
		MatchArgs: true,
	}, patchwork.Exactly(2))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(called).To(BeTrue())

	// Gomega matchers satisfy the Matcher interface directly.
	called, err = patchwork.Called(patchwork.Query{
		Selector:  addSel,
		Caller:    caller.ID(),
		Args:      []any{BeNumerically(">", 5)},
		MatchArgs: true,
	}, patchwork.Exactly(1))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(called).To(BeTrue())
}

func TestHistoryKeepsRecordedOrder(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	caller := patchwork.ContextFor(t)
	ctx := patchwork.Attach(context.Background(), caller)

	g.Expect(patchwork.Spy(greetSel)).To(Succeed())

	_ = greetFunc(ctx, "first")
	_ = greetFunc(ctx, "second")

	entries, err := patchwork.History(patchwork.Query{Selector: greetSel, Caller: caller.ID()})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(entries).To(HaveLen(2))
	g.Expect(entries[0].Args).To(Equal([]any{"first"}))
	g.Expect(entries[1].Args).To(Equal([]any{"second"}))
	g.Expect(entries[0].Timestamp).To(BeNumerically("<", entries[1].Timestamp))
}

func TestRealReachesThePristineImplementation(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	caller := patchwork.ContextFor(t)

	err := patchwork.Patch(caller, addSel, patchwork.TierLocal,
		func(_ context.Context, _ int) int { return -1 }, false)
	g.Expect(err).NotTo(HaveOccurred())

	original := patchwork.Real[func(context.Context, int) int](addSel)
	g.Expect(original(context.Background(), 1)).To(Equal(2))

	// A bypassing call stack reaches the original through the routed value
	// too.
	ctx := patchwork.Attach(context.Background(), caller)
	g.Expect(addFunc(patchwork.WithBypass(ctx), 1)).To(Equal(2))
	g.Expect(addFunc(ctx, 1)).To(Equal(-1))
}

func TestRestoreRemovesOneTierOnly(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	caller := patchwork.ContextFor(t)
	ctx := patchwork.Attach(context.Background(), caller)

	g.Expect(patchwork.Patch(caller, greetSel, patchwork.TierLocal,
		func(_ context.Context, _ string) string { return "local" }, false)).To(Succeed())
	g.Expect(patchwork.Patch(caller, greetSel, patchwork.TierShared,
		func(_ context.Context, _ string) string { return "shared" }, false)).To(Succeed())

	g.Expect(greetFunc(ctx, "x")).To(Equal("local"))

	patchwork.Restore(caller, greetSel, patchwork.TierLocal)
	g.Expect(greetFunc(ctx, "x")).To(Equal("shared"))

	patchwork.Restore(caller, greetSel, patchwork.TierShared)
	g.Expect(greetFunc(ctx, "x")).To(Equal("hello x"))
}

func TestRepatchedAndInfoReflectActiveOverrides(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	sel := patchwork.SelectorFor("accept.info", "Target", 0)
	_ = patchwork.Export("accept.info", "Target", func() int { return 7 })

	caller := patchwork.ContextFor(t)

	g.Expect(patchwork.Repatched(sel, nil)).To(BeFalse())

	g.Expect(patchwork.Patch(caller, sel, patchwork.TierLocal, func() int { return 8 }, false)).To(Succeed())

	g.Expect(patchwork.Repatched(sel, nil)).To(BeTrue())

	shared := patchwork.TierShared
	g.Expect(patchwork.Repatched(sel, &shared)).To(BeFalse())

	info := patchwork.Info(sel, caller)
	g.Expect(info).To(HaveKey(caller.ID()))
	g.Expect(info[caller.ID()]).To(ContainElement(patchwork.TagLocal))
}

func TestNotifySignalsTheNextCall(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	sel := patchwork.SelectorFor("accept.notify", "Ping", 1)
	ping := patchwork.Export("accept.notify", "Ping", func(_ context.Context, n int) int { return n })

	caller := patchwork.ContextFor(t)

	token, err := patchwork.Notify(caller, sel)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(ping(patchwork.Attach(context.Background(), caller), 42)).To(Equal(42))

	select {
	case notification := <-token:
		g.Expect(notification.Selector).To(Equal(sel))
		g.Expect(notification.Args).To(Equal([]any{42}))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the notification")
	}
}

func TestForcedRepatchAndDuplicateError(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	sel := patchwork.SelectorFor("accept.force", "Value", 0)
	value := patchwork.Export("accept.force", "Value", func(_ context.Context) string { return "real" })

	caller := patchwork.ContextFor(t)
	ctx := patchwork.Attach(context.Background(), caller)

	one := func(_ context.Context) string { return "one" }
	two := func(_ context.Context) string { return "two" }

	g.Expect(patchwork.Patch(caller, sel, patchwork.TierLocal, one, false)).To(Succeed())

	err := patchwork.Patch(caller, sel, patchwork.TierLocal, two, false)
	g.Expect(err).To(MatchError(patchwork.ErrAlreadyOverridden))

	g.Expect(patchwork.Patch(caller, sel, patchwork.TierLocal, two, true)).To(Succeed())
	g.Expect(value(ctx)).To(Equal("two"))
}
