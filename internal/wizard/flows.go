package wizard

// Виды сценариев.
const (
	FlowRecruitment = "recruitment"
	FlowBroadcast   = "broadcast"
)

// Поля анкеты кандидата.
const (
	FieldName      = "name"
	FieldPhone     = "phone"
	FieldRegion    = "region"
	FieldSkills    = "skills"
	FieldInterests = "interests"
	FieldPosition  = "position"
	FieldStatus    = "status"
	FieldReason    = "reason"
	FieldMessage   = "message"
)

// Regions — варианты шага выбора региона.
var Regions = []string{
	"Toshkent shahri", "Toshkent viloyati", "Andijon", "Buxoro", "Farg'ona",
	"Jizzax", "Xorazm", "Namangan", "Navoiy", "Qashqadaryo", "Samarqand",
	"Sirdaryo", "Surxondaryo", "Qoraqalpog'iston",
}

// Positions — варианты шага выбора должности.
var Positions = []string{
	"Oddiy ishchi", "Omborchi", "Haydovchi", "Mebel ustasi", "Sotuv menejeri",
	"Buxgalter", "HR menejeri", "Bo'lim boshlig'i", "Direktor (CEO)",
}

// Statuses — варианты шага о материальном положении.
var Statuses = []string{"Kambag'al", "O'rta hol", "Yaxshi", "Boy"}

// RecruitmentFlow — анкета соискателя: NAME, PHONE, REGION, SKILLS,
// INTERESTS, POSITION, STATUS, REASON.
func RecruitmentFlow() Flow {
	return Flow{
		Kind: FlowRecruitment,
		Steps: []Step{
			{
				Field:   FieldName,
				Prompt:  "Rezyume to'ldirishni boshladik.\n\nIltimos, to'liq ism-sharifingizni yozing:",
				Invalid: "Ism-sharif juda qisqa. Iltimos, to'liq yozing:",
				MinLen:  3,
			},
			{
				Field:         FieldPhone,
				Prompt:        "Rahmat. Endi telefon raqamingizni '📞 Raqamni yuborish' tugmasi orqali yuboring yoki o'zingiz yozing:",
				Invalid:       "Telefon raqami noto'g'ri ko'rinadi. Tugma orqali yuboring yoki raqamni to'liq yozing:",
				AcceptContact: true,
			},
			{
				Field:   FieldRegion,
				Prompt:  "Yashash joyingizni tanlang:",
				Invalid: "Iltimos, ro'yxatdagi hududlardan birini tanlang.",
				Choices: Regions,
			},
			{
				Field:   FieldSkills,
				Prompt:  "Ko'nikmalaringizni yozing (masalan: Kompyuter savodxonligi, Payvandlash, Sotuv...):",
				Invalid: "Iltimos, ko'nikmalaringizni batafsilroq yozing:",
				MinLen:  3,
			},
			{
				Field:   FieldInterests,
				Prompt:  "Qiziqishlaringizni yozing (masalan: Kitob o'qish, Futbol, Dasturlash...):",
				Invalid: "Iltimos, qiziqishlaringizni batafsilroq yozing:",
				MinLen:  3,
			},
			{
				Field:   FieldPosition,
				Prompt:  "Qaysi lavozimga qiziqasiz?",
				Invalid: "Iltimos, ro'yxatdagi lavozimlardan birini tanlang.",
				Choices: Positions,
			},
			{
				Field:   FieldStatus,
				Prompt:  "Moddiy holatingizni tanlang:",
				Invalid: "Iltimos, variantlardan birini tanlang.",
				Choices: Statuses,
			},
			{
				Field:   FieldReason,
				Prompt:  "Nima uchun aynan bizning kompaniyamizda ishlashni xohlaysiz? Qisqacha yozing.",
				Invalid: "Iltimos, javobingizni batafsilroq yozing:",
				MinLen:  3,
			},
		},
	}
}

// BroadcastFlow — одношаговый сценарий составления рассылки админом.
func BroadcastFlow() Flow {
	return Flow{
		Kind: FlowBroadcast,
		Steps: []Step{
			{
				Field:   FieldMessage,
				Prompt:  "Barcha foydalanuvchilarga yuboriladigan xabar matnini yozing:",
				Invalid: "Xabar matni juda qisqa.",
				MinLen:  3,
			},
		},
	}
}
