package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SIGAE API",
        "description": "Academic year and enrollment lifecycle service",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "AcademicYears", "description": "Academic year lifecycle"},
        {"name": "Enrollments", "description": "Enrollment lifecycle and bulk promotion"},
        {"name": "GradeChanges", "description": "Grade/group change rule engine"}
    ],
    "paths": {
        "/academic-years": {
            "get": {
                "tags": ["AcademicYears"],
                "summary": "List academic years",
                "parameters": [
                    {"name": "institutionId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "enum": ["DRAFT", "ACTIVE", "CLOSED"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "sort", "in": "query", "type": "string"},
                    {"name": "order", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["AcademicYears"],
                "summary": "Create academic year in draft",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateYearRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Duplicate year number", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/academic-years/{id}": {
            "get": {
                "tags": ["AcademicYears"],
                "summary": "Get academic year",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["AcademicYears"],
                "summary": "Delete a draft year without enrollments",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "403": {"description": "Year is not in draft", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Year has enrollments", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/academic-years/{id}/terms": {
            "get": {
                "tags": ["AcademicYears"],
                "summary": "List grading periods",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["AcademicYears"],
                "summary": "Add grading period to a draft year",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateTermRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Year is not in draft", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/academic-years/{id}/validate-activation": {
            "get": {
                "tags": ["AcademicYears"],
                "summary": "Preview activation violations",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/academic-years/{id}/activate": {
            "put": {
                "tags": ["AcademicYears"],
                "summary": "Activate a draft year",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Another year is active or year is not draft", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/academic-years/{id}/close": {
            "put": {
                "tags": ["AcademicYears"],
                "summary": "Close an active year",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CloseYearRequest"}}
                ],
                "responses": {
                    "200": {"description": "Closure counts", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Year is not active", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/academic-years/{id}/permissions": {
            "get": {
                "tags": ["AcademicYears"],
                "summary": "Read-side status predicates",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/academic-years/{id}/enrollment-stats": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "Aggregate enrollment counts for a year",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List enrollments",
                "parameters": [
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "academicYearId", "in": "query", "type": "string"},
                    {"name": "groupId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Enrollments"],
                "summary": "Enroll a student",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EnrollStudentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Duplicate enrollment for the year", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/promote": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Bulk-promote students between years",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/PromoteStudentsRequest"}}
                ],
                "responses": {
                    "200": {"description": "Batch result with collected errors", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Source year not closed or target year closed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "Get enrollment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}/events": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List audit trail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}/withdraw": {
            "put": {
                "tags": ["Enrollments"],
                "summary": "Withdraw an active enrollment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/WithdrawEnrollmentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Enrollment is not active", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}/transfer": {
            "put": {
                "tags": ["Enrollments"],
                "summary": "Transfer an enrollment out",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TransferEnrollmentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}/group": {
            "put": {
                "tags": ["Enrollments"],
                "summary": "Move an enrollment to another group",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ChangeGroupRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}/reactivate": {
            "put": {
                "tags": ["Enrollments"],
                "summary": "Reactivate a withdrawn enrollment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/ReactivateEnrollmentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Enrollment is not withdrawn", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}/grade-change/validate": {
            "get": {
                "tags": ["GradeChanges"],
                "summary": "Evaluate the grade-change rule table",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "targetGroupId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Validation outcome", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Target group is full", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}/grade-change": {
            "put": {
                "tags": ["GradeChanges"],
                "summary": "Execute an approved grade/group change",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ExecuteGradeChangeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Blocking restrictions present", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Missing or unapproved academic act", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateYearRequest": {
            "type": "object",
            "properties": {
                "institution_id": {"type": "string"},
                "year_number": {"type": "integer"},
                "name": {"type": "string"},
                "start_date": {"type": "string", "format": "date-time"},
                "end_date": {"type": "string", "format": "date-time"}
            },
            "required": ["institution_id", "year_number", "name", "start_date", "end_date"]
        },
        "CreateTermRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "position": {"type": "integer"},
                "weight": {"type": "number"},
                "start_date": {"type": "string", "format": "date-time"},
                "end_date": {"type": "string", "format": "date-time"}
            },
            "required": ["name", "position"]
        },
        "CloseYearRequest": {
            "type": "object",
            "properties": {
                "calculate_promotions": {"type": "boolean"}
            }
        },
        "EnrollStudentRequest": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "academic_year_id": {"type": "string"},
                "group_id": {"type": "string"},
                "type": {"type": "string", "enum": ["NEW", "RENEWAL", "REENTRY", "TRANSFER"]},
                "shift": {"type": "string"},
                "modality": {"type": "string"},
                "observations": {"type": "string"}
            },
            "required": ["student_id", "academic_year_id", "group_id"]
        },
        "WithdrawEnrollmentRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"},
                "observations": {"type": "string"}
            },
            "required": ["reason"]
        },
        "TransferEnrollmentRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"},
                "observations": {"type": "string"}
            },
            "required": ["reason"]
        },
        "ChangeGroupRequest": {
            "type": "object",
            "properties": {
                "target_group_id": {"type": "string"},
                "reason": {"type": "string"},
                "observations": {"type": "string"}
            },
            "required": ["target_group_id", "reason"]
        },
        "ReactivateEnrollmentRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"},
                "observations": {"type": "string"}
            }
        },
        "PromoteStudentsRequest": {
            "type": "object",
            "properties": {
                "from_year_id": {"type": "string"},
                "to_year_id": {"type": "string"}
            },
            "required": ["from_year_id", "to_year_id"]
        },
        "ExecuteGradeChangeRequest": {
            "type": "object",
            "properties": {
                "target_group_id": {"type": "string"},
                "reason": {"type": "string"},
                "observations": {"type": "string"},
                "academic_act_id": {"type": "string"}
            },
            "required": ["target_group_id", "reason"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "violations": {"type": "array", "items": {"type": "string"}}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
