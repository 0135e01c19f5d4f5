package receipt

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"receiptrocket/internal/extraction"
)

// sequentialIDGenerator assigns predictable IDs for tests
type sequentialIDGenerator struct {
	next int
}

func (g *sequentialIDGenerator) Generate() string {
	g.next++
	return []string{"", "rec-1", "rec-2", "rec-3", "rec-4", "rec-5"}[g.next]
}

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	newRecord := func(userID string, date time.Time) *Receipt {
		return &Receipt{
			UserID:    userID,
			Date:      date,
			Image:     "https://store.example/receipts/abc.jpg?sig=abc",
			ImagePath: "receipts/abc.jpg",
			Fields: extraction.Fields{
				CompanyName: "Acme Foods",
				Description: "Groceries",
				TotalAmount: "22.55",
			},
		}
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("AppendReceipt", func() {
		var (
			record *Receipt
			id     string
			err    error
		)

		BeforeEach(func() {
			record = newRecord("alice", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
		})

		JustBeforeEach(func() {
			id, err = db.AppendReceipt(record)
		})

		When("appending succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should assign a non-empty ID", func() {
				Expect(id).NotTo(BeEmpty())
			})

			It("should not mutate the caller's record", func() {
				Expect(record.ID).To(BeEmpty())
			})

			It("should persist the record under the assigned ID", func() {
				got, getErr := db.GetReceipt(id)
				Expect(getErr).NotTo(HaveOccurred())
				Expect(got.ID).To(Equal(id))
				Expect(got.UserID).To(Equal("alice"))
				Expect(got.CompanyName).To(Equal("Acme Foods"))
				Expect(got.ImagePath).To(Equal("receipts/abc.jpg"))
			})

			It("should assign distinct IDs to successive appends", func() {
				other, otherErr := db.AppendReceipt(newRecord("alice", time.Now()))
				Expect(otherErr).NotTo(HaveOccurred())
				Expect(other).NotTo(Equal(id))
			})
		})
	})

	Describe("GetReceipt", func() {
		When("the receipt does not exist", func() {
			It("should fail with ErrNotFound", func() {
				_, err := db.GetReceipt("missing")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("ListReceiptsByUser", func() {
		var (
			receipts []*Receipt
			err      error
		)

		JustBeforeEach(func() {
			receipts, err = db.ListReceiptsByUser("alice")
		})

		When("the store is empty", func() {
			It("should return an empty list, not an error", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(receipts).To(BeEmpty())
				Expect(receipts).NotTo(BeNil())
			})
		})

		When("several users have receipts", func() {
			BeforeEach(func() {
				dates := []time.Time{
					time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
					time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
					time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC),
				}
				for _, d := range dates {
					_, appendErr := db.AppendReceipt(newRecord("alice", d))
					Expect(appendErr).NotTo(HaveOccurred())
				}
				_, appendErr := db.AppendReceipt(newRecord("bob", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))
				Expect(appendErr).NotTo(HaveOccurred())
			})

			It("should return only the requested user's receipts", func() {
				Expect(receipts).To(HaveLen(3))
				for _, r := range receipts {
					Expect(r.UserID).To(Equal("alice"))
				}
			})

			It("should order them newest date first", func() {
				Expect(receipts[0].Date).To(Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)))
				Expect(receipts[1].Date).To(Equal(time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)))
				Expect(receipts[2].Date).To(Equal(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)))
			})
		})
	})

	Describe("DeleteReceipt", func() {
		When("the receipt exists", func() {
			var id string

			BeforeEach(func() {
				var err error
				id, err = db.AppendReceipt(newRecord("alice", time.Now()))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should remove it", func() {
				Expect(db.DeleteReceipt(id)).To(Succeed())
				_, err := db.GetReceipt(id)
				Expect(err).To(MatchError(ErrNotFound))
			})
		})

		When("the receipt does not exist", func() {
			It("should not return an error", func() {
				Expect(db.DeleteReceipt("missing")).To(Succeed())
			})
		})
	})

	Describe("NewBoltDBWithIDGenerator", func() {
		It("should use the injected generator for assigned IDs", func() {
			custom, err := NewBoltDBWithIDGenerator(filepath.Join(tmpDir, "custom.db"), &sequentialIDGenerator{})
			Expect(err).NotTo(HaveOccurred())
			defer custom.Close()

			id, err := custom.AppendReceipt(newRecord("alice", time.Now()))
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("rec-1"))
		})
	})

	Describe("NewBoltDB", func() {
		When("the database path is not writable", func() {
			It("should fail with a metadata store kind", func() {
				_, err := NewBoltDB(filepath.Join(tmpDir, "missing-dir", "test.db"))
				Expect(err).To(MatchError(ErrMetadataUnavailable))
			})
		})
	})
})
