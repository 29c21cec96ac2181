package message_test

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	. "github.com/coapkit/coapkit/message"
)

var _ = Describe("Message", func() {
	Describe("Serialize message", func() {
		var (
			message  *CoAPMessage
			datagram []byte
			err      error
		)

		BeforeEach(func() {
			message = NewCoAPMessage(CON, GET)
			datagram, err = Serialize(message)
			Expect(err).NotTo(HaveOccurred())
		})

		Context("With correct Message ID", func() {
			It("Should correct serialize message id", func() {
				Expect(binary.BigEndian.Uint16(datagram[2:4])).Should(Equal(message.MessageID))
			})
		})

		Context("With correct Version", func() {
			It("Should correct serialize version", func() {
				Expect(datagram[0] >> 6).Should(Equal(uint8(1)))
			})
		})

		Context("With Type", func() {
			DescribeTable("Check each type",
				func(expectedType CoapType) {
					message.Type = expectedType
					datagram, err = Serialize(message)
					Expect(err).NotTo(HaveOccurred())
					Expect(datagram[0] >> 4 & 3).To(Equal(uint8(expectedType)))
				},
				Entry("CON", CON),
				Entry("NON", NON),
				Entry("ACK", ACK),
				Entry("RST", RST),
			)
		})

		Context("With Token", func() {
			It("Should serialize token length and bytes", func() {
				Expect(datagram[0] & 0x0f).To(Equal(uint8(len(message.Token))))
				Expect(datagram[4 : 4+len(message.Token)]).To(Equal(message.Token))
			})
		})
	})

	Describe("Deserialize message", func() {
		It("Should roundtrip a message with options and payload", func() {
			message := NewCoAPMessage(CON, POST)
			message.SetURIPath("/info/block")
			message.SetURIQuery("id", "42")
			message.SetStringPayload("hello")

			datagram, err := Serialize(message)
			Expect(err).NotTo(HaveOccurred())

			parsed, err := Deserialize(datagram)
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed.MessageID).To(Equal(message.MessageID))
			Expect(parsed.Type).To(Equal(CON))
			Expect(parsed.Code).To(Equal(POST))
			Expect(parsed.Token).To(Equal(message.Token))
			Expect(parsed.GetURIPath()).To(Equal("/info/block"))
			Expect(parsed.GetURIQuery("id")).To(Equal("42"))
			Expect(parsed.Payload.String()).To(Equal("hello"))
		})

		It("Should roundtrip block and size options", func() {
			message := NewCoAPMessage(ACK, CoapCodeContent)
			message.SetBlock2(NewBlock(true, 3, 64))
			message.SetOption(OptionSize2, 1000)

			datagram, err := Serialize(message)
			Expect(err).NotTo(HaveOccurred())

			parsed, err := Deserialize(datagram)
			Expect(err).NotTo(HaveOccurred())

			block := parsed.GetBlock2()
			Expect(block).NotTo(BeNil())
			Expect(block.BlockNumber).To(Equal(3))
			Expect(block.MoreBlocks).To(BeTrue())
			Expect(block.BlockSize).To(Equal(64))
			Expect(parsed.GetOption(OptionSize2).IntValue()).To(Equal(1000))
		})

		It("Should roundtrip an option needing the extended delta form", func() {
			message := NewCoAPMessage(NON, GET)
			message.AddOption(OptionNoResponse, NoResponseSuppressSuccess)

			datagram, err := Serialize(message)
			Expect(err).NotTo(HaveOccurred())

			parsed, err := Deserialize(datagram)
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed.GetNoResponse()).To(Equal(NoResponseSuppressSuccess))
		})

		It("Should reject a short packet", func() {
			_, err := Deserialize([]byte{0x40, 0x01, 0x00})
			Expect(err).To(Equal(ErrPacketLengthLessThan4))
		})

		It("Should reject a wrong version", func() {
			_, err := Deserialize([]byte{0x80, 0x01, 0x00, 0x01})
			Expect(err).To(Equal(ErrInvalidCoapVersion))
		})

		It("Should reject a reserved option nibble", func() {
			datagram := []byte{0x40, 0x01, 0x00, 0x01, 0xf1, 0x00}
			_, err := Deserialize(datagram)
			Expect(err).To(Equal(ErrOptionDeltaUsesValue15))
		})

		It("Should reject a truncated option", func() {
			datagram := []byte{0x40, 0x01, 0x00, 0x01, 0x15, 0xaa}
			_, err := Deserialize(datagram)
			Expect(err).To(Equal(ErrOptionTruncated))
		})

		It("Should reject a payload marker with nothing behind it", func() {
			datagram := []byte{0x40, 0x01, 0x00, 0x01, 0xff}
			_, err := Deserialize(datagram)
			Expect(err).To(Equal(ErrEmptyPayloadMarker))
		})
	})

	Describe("Unknown critical options", func() {
		knownNone := func(OptionCode) bool { return false }
		knownAll := func(OptionCode) bool { return true }

		It("Should surface the first unknown critical option", func() {
			message := NewCoAPMessage(CON, GET)
			message.AddOption(OptionURIPath, "x")

			opt := message.UnknownCriticalOption(knownNone)
			Expect(opt).NotTo(BeNil())
			Expect(opt.Code).To(Equal(OptionURIPath))
			Expect(message.UnknownCriticalOption(knownAll)).To(BeNil())
		})

		It("Should ignore unknown elective options", func() {
			message := NewCoAPMessage(CON, GET)
			message.AddOption(OptionMaxAge, 60)
			Expect(message.UnknownCriticalOption(knownNone)).To(BeNil())
		})
	})
})
