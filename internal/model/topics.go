package model

// Topic is a catalog entry offered on the topic selection page.
type Topic struct {
	ID       int64    `json:"id"`
	Mode     ExamMode `json:"mode"`
	Name     string   `json:"name"`
	Position int      `json:"position"`
}

// TopicImport is used for loading topics from JSON.
type TopicImport struct {
	Mode ExamMode `json:"mode"`
	Name string   `json:"name"`
}

// DefaultCaseTopics are the clinical topics of the surgery rotation.
var DefaultCaseTopics = []string{
	"Manejo inicial del paciente politraumatizado",
	"Trauma de cuello y tórax",
	"Trauma craneoencefálico",
	"Trauma de abdomen y pelvis",
	"Trauma raquimedular",
	"Choque hipovolémico",
	"Quemaduras",
	"Abdomen agudo",
	"Apendicitis aguda",
	"Colelitiasis",
	"Colecistitis (clasificar TOKIO)",
	"Coledocolitiasis",
	"Obstrucción intestinal",
	"Hernias de pared abdominal",
	"Pancreatitis aguda de origen biliar",
	"Hemorragia de vías digestivas",
	"Síndrome aórtico agudo",
	"Enfermedad diverticular",
	"Infecciones quirúrgicas",
}

// DefaultProcedureTopics are the procedures assessed at technical stations.
var DefaultProcedureTopics = []string{
	"Intubación orotraqueal",
	"Suturas (todos los tipos)",
	"Toracostomía",
	"Sonda vesical hombre",
	"Sonda vesical mujer",
	"Sonda nasogástrica",
}
