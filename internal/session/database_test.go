package session

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sidneyarfe/divideai/internal/bill"
)

var _ = Describe("BoltDB", func() {
	var (
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	// sampleSession is a bill midway through assignment
	sampleSession := func() *Session {
		b := bill.New("Cantina", 12.5)
		pizza := b.AddLine("Pizza", 1, 40)
		b.AddLine("Suco", 2, 16)
		me := b.SeatCurrentUser()
		ana := b.AddPerson("Ana")
		b.ToggleAssignment(pizza.ID, me.ID)
		b.ToggleAssignment(pizza.ID, ana.ID)

		return &Session{
			ID:            "sess-1",
			Step:          StepAssign,
			Bill:          b,
			OptIns:        bill.OptIns{ana.ID: false},
			ImageFilename: "sess-1_conta.jpg",
			ContentType:   "image/jpeg",
			CreatedAt:     time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC),
			UpdatedAt:     time.Date(2024, 1, 15, 20, 5, 0, 0, time.UTC),
		}
	}

	Describe("SaveSession", func() {
		It("should not return an error", func() {
			Expect(db.SaveSession(sampleSession())).To(Succeed())
		})

		It("should replace an existing session", func() {
			sess := sampleSession()
			Expect(db.SaveSession(sess)).To(Succeed())
			sess.Step = StepResult
			Expect(db.SaveSession(sess)).To(Succeed())

			got, err := db.GetSession("sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Step).To(Equal(StepResult))
		})
	})

	Describe("GetSession", func() {
		var (
			id  string
			got *Session
			err error
		)

		BeforeEach(func() {
			Expect(db.SaveSession(sampleSession())).To(Succeed())
		})

		JustBeforeEach(func() {
			got, err = db.GetSession(id)
		})

		When("the session exists", func() {
			BeforeEach(func() {
				id = "sess-1"
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should restore the session fields", func() {
				Expect(got.ID).To(Equal("sess-1"))
				Expect(got.Step).To(Equal(StepAssign))
				Expect(got.ImageFilename).To(Equal("sess-1_conta.jpg"))
				Expect(got.CreatedAt.Equal(time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC))).To(BeTrue())
			})

			It("should restore the bill", func() {
				Expect(got.Bill.Establishment).To(Equal("Cantina"))
				Expect(got.Bill.ServicePercent).To(Equal(12.5))
				Expect(got.Bill.Items).To(HaveLen(2))
				Expect(got.Bill.Items[1].Quantity).To(Equal(2))
				Expect(got.Bill.People).To(HaveLen(2))
				Expect(got.Bill.People[0].ID).To(Equal(bill.CurrentUserID))
			})

			It("should keep assignments and opt-ins", func() {
				Expect(got.Bill.Items[0].AssignedTo).To(HaveLen(2))
				Expect(got.Bill.Items[1].AssignedTo).To(BeEmpty())
				Expect(got.OptIns).To(HaveLen(1))
			})
		})

		When("the session does not exist", func() {
			BeforeEach(func() {
				id = "missing"
			})

			It("returns ErrNotFound", func() {
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("DeleteSession", func() {
		It("should remove the session", func() {
			Expect(db.SaveSession(sampleSession())).To(Succeed())
			Expect(db.DeleteSession("sess-1")).To(Succeed())

			_, err := db.GetSession("sess-1")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("should not fail for a missing session", func() {
			Expect(db.DeleteSession("missing")).To(Succeed())
		})
	})

	Describe("reopening", func() {
		It("should keep sessions across restarts", func() {
			Expect(db.SaveSession(sampleSession())).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())

			got, err := db.GetSession("sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Bill.Establishment).To(Equal("Cantina"))
		})
	})
})
