package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"vashsender/internal/billing"
	"vashsender/internal/config"
	"vashsender/internal/db/dbtest"
	"vashsender/internal/mailer"
	"vashsender/internal/models"
	"vashsender/internal/tasks"
	"vashsender/internal/utils"
)

type processCall struct {
	campaignID string
	cursor     string
	delay      time.Duration
}

type fakeQueue struct {
	mu        sync.Mutex
	processes []processCall
	sends     []string
	imports   []string
	domains   []string
	// dead holds task ids owned by archived tasks. Enqueuing one of them is
	// silently dropped, like asynq.ErrTaskIDConflict in TaskClient.
	dead     map[string]bool
	released []string
}

func (q *fakeQueue) archive(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dead == nil {
		q.dead = map[string]bool{}
	}
	q.dead[taskID] = true
}

func (q *fakeQueue) ReleaseDeadTasks(_ context.Context, taskIDs []string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, id := range taskIDs {
		if q.dead[id] {
			delete(q.dead, id)
			q.released = append(q.released, id)
			n++
		}
	}
	return n, nil
}

func (q *fakeQueue) EnqueueCampaignProcess(_ context.Context, campaignID, cursor string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dead[tasks.ProcessTaskID(campaignID, cursor)] {
		return nil
	}
	q.processes = append(q.processes, processCall{campaignID, cursor, delay})
	return nil
}

func (q *fakeQueue) EnqueueRecipientSend(_ context.Context, _ string, recipientID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dead[tasks.SendTaskID(recipientID)] {
		return nil
	}
	q.sends = append(q.sends, recipientID)
	return nil
}

func (q *fakeQueue) EnqueueContactImport(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.imports = append(q.imports, id)
	return nil
}

func (q *fakeQueue) EnqueueDomainVerification(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.domains = append(q.domains, id)
	return nil
}

func (q *fakeQueue) popProcess() (processCall, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.processes) == 0 {
		return processCall{}, false
	}
	p := q.processes[0]
	q.processes = q.processes[1:]
	return p, true
}

func (q *fakeQueue) popSend() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.sends) == 0 {
		return "", false
	}
	id := q.sends[0]
	q.sends = q.sends[1:]
	return id, true
}

func (q *fakeQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processes = nil
	q.sends = nil
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []*mailer.Message
	errFor map[string]error
}

func (s *fakeSender) Send(_ context.Context, _ mailer.Server, msg *mailer.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errFor[msg.To]; err != nil {
		return "", err
	}
	s.sent = append(s.sent, msg)
	return fmt.Sprintf("<%d@acme.test>", len(s.sent)), nil
}

func (s *fakeSender) messages() []*mailer.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*mailer.Message(nil), s.sent...)
}

type fakeLimiter struct {
	deny bool
	err  error
	keys []string
}

func (l *fakeLimiter) ReserveLimit(_ context.Context, key string, _ int, _ time.Duration) (bool, time.Duration, error) {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return false, 0, l.err
	}
	if l.deny {
		return false, 750 * time.Millisecond, nil
	}
	return true, 0, nil
}

type noPacer struct{}

func (noPacer) Wait(context.Context, string) error { return nil }

type fixture struct {
	db        *gorm.DB
	teamID    string
	queue     *fakeQueue
	mail      *fakeSender
	limiter   *fakeLimiter
	billing   *billing.Service
	campaigns *CampaignService
	domain    models.Domain
	sender    models.SenderEmail
	template  models.Template
	list      models.ContactList
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := dbtest.Open(t)
	require.NoError(t, models.SeedPlans(gdb))

	team := models.Team{Name: "Acme"}
	require.NoError(t, gdb.Create(&team).Error)
	require.NoError(t, billing.StartFreePlan(gdb, team.ID, "owner@acme.test", time.Now()))

	f := &fixture{
		db:      gdb,
		teamID:  team.ID,
		queue:   &fakeQueue{},
		mail:    &fakeSender{errFor: map[string]error{}},
		limiter: &fakeLimiter{},
		billing: billing.NewService(gdb, billing.NewProvider(config.BillingConfig{})),
	}

	now := time.Now()
	f.domain = models.Domain{
		Name:              "acme.test",
		TeamID:            team.ID,
		VerificationToken: "tok",
		DKIMSelector:      "vash",
		DKIMPrivateKey:    "test-private-key",
		Status:            models.DomainStatusVerified,
		VerifiedAt:        &now,
	}
	require.NoError(t, gdb.Create(&f.domain).Error)

	f.sender = models.SenderEmail{
		Email:       "news@acme.test",
		DisplayName: "Acme News",
		TeamID:      team.ID,
		DomainID:    f.domain.ID,
		ConfirmedAt: &now,
	}
	require.NoError(t, gdb.Create(&f.sender).Error)

	f.template = models.Template{
		Name:    "Welcome",
		Subject: "Hi {{first_name|there}}",
		HTML:    `<p>Hello {{first_name}}</p><a href="https://acme.test/sale">Sale</a> <a href="{{unsubscribe_url}}">Unsubscribe</a>`,
		TeamID:  team.ID,
	}
	require.NoError(t, gdb.Create(&f.template).Error)

	f.list = f.newList(t, "Main")

	f.campaigns = NewCampaignService(gdb, CampaignDeps{
		Queue:    f.queue,
		Sender:   f.mail,
		Limiter:  f.limiter,
		Pacer:    noPacer{},
		Renderer: NewRenderer(utils.NewTrackingSigner("tracking-secret", "https://t.vash.test")),
		Billing:  f.billing,
	}, config.CampaignConfig{BatchSize: 2, StuckThreshold: 15 * time.Minute}, config.MailConfig{MaxSendRate: 50})
	return f
}

func (f *fixture) newList(t *testing.T, name string) models.ContactList {
	t.Helper()
	l := models.ContactList{Name: name, TeamID: f.teamID}
	require.NoError(t, f.db.Create(&l).Error)
	return l
}

func (f *fixture) addContacts(t *testing.T, listID string, status models.SubscriberStatus, emails ...string) []models.Contact {
	t.Helper()
	out := make([]models.Contact, 0, len(emails))
	for _, e := range emails {
		c := models.Contact{Email: e, FirstName: "F-" + e, ListID: listID, TeamID: f.teamID, Status: status}
		require.NoError(t, f.db.Create(&c).Error)
		out = append(out, c)
	}
	return out
}

func (f *fixture) newCampaign(t *testing.T, listIDs ...string) *models.Campaign {
	t.Helper()
	if len(listIDs) == 0 {
		listIDs = []string{f.list.ID}
	}
	c := &models.Campaign{
		Name:          "Spring sale",
		TemplateID:    f.template.ID,
		SenderEmailID: f.sender.ID,
		ListIDs:       listIDs,
	}
	require.NoError(t, f.campaigns.Create(context.Background(), f.teamID, c))
	return c
}

// drain runs queued tasks until none are left, the way a worker would.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		if p, ok := f.queue.popProcess(); ok {
			require.NoError(t, f.campaigns.ProcessBatch(ctx, p.campaignID, p.cursor))
			continue
		}
		if rid, ok := f.queue.popSend(); ok {
			_ = f.campaigns.SendRecipient(ctx, rid, false)
			continue
		}
		return
	}
	t.Fatal("queue never drained")
}

func (f *fixture) reload(t *testing.T, id string) *models.Campaign {
	t.Helper()
	var c models.Campaign
	require.NoError(t, f.db.First(&c, "id = ?", id).Error)
	return &c
}

func (f *fixture) recipients(t *testing.T, campaignID string) map[string]models.CampaignRecipient {
	t.Helper()
	var rs []models.CampaignRecipient
	require.NoError(t, f.db.Where("campaign_id = ?", campaignID).Find(&rs).Error)
	out := make(map[string]models.CampaignRecipient, len(rs))
	for _, r := range rs {
		out[r.Email] = r
	}
	return out
}

func (f *fixture) upgrade(t *testing.T, planCode string) {
	t.Helper()
	var plan models.Plan
	require.NoError(t, f.db.Where("code = ?", planCode).First(&plan).Error)
	require.NoError(t, f.db.Model(&models.Subscription{}).Where("team_id = ?", f.teamID).Update("plan_id", plan.ID).Error)
}
